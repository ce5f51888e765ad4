/*
Copyright © 2023 NAME HERE <EMAIL ADDRESS>

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ThinkerYzu1/blazesym/pkg/blazesym"
)

// addr2lineCmd represents the addr2line command
var addr2lineCmd = &cobra.Command{
	Use:   "addr2line <address>...",
	Short: "symbolize addresses into function, file and line",
	Long: `symbolize addresses into function, file and line.

Examples:
  blazesym addr2line --pid 1234 0x7f8f6ae31000
  blazesym addr2line --elf ./a.out --base 0x400000 0x401234
  blazesym addr2line --kernel ffffffff81000042`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		srcs, err := sourcesFromFlags(cmd)
		if err != nil {
			return err
		}

		addrs := make([]uint64, 0, len(args))
		for _, arg := range args {
			s := arg
			if !strings.HasPrefix(s, "0x") && !strings.HasPrefix(s, "0X") {
				// addresses without 0x are still hex, like addr2line
				s = "0x" + s
			}
			addr, err := parseAddr(s)
			if err != nil {
				return fmt.Errorf("invalid address %q", arg)
			}
			addrs = append(addrs, addr)
		}

		symbolizer := newSymbolizer()
		defer symbolizer.Close()

		results, err := symbolizer.Symbolize(srcs, addrs)
		if err != nil {
			return err
		}
		for i, frames := range results {
			printFrames(addrs[i], frames)
		}
		return nil
	},
}

func printFrames(addr uint64, frames []blazesym.SymbolizedResult) {
	if len(frames) == 0 {
		fmt.Printf("%#x: not found\n", addr)
		return
	}
	for i, frame := range frames {
		name := frame.Symbol
		if name == "" {
			name = "??"
		}
		if i == 0 && frame.StartAddress != 0 {
			fmt.Printf("%#x: %s@%#x+%d", addr, name, frame.StartAddress, addr-frame.StartAddress)
		} else if i == 0 {
			fmt.Printf("%#x: %s", addr, name)
		} else {
			fmt.Printf("%#x: %s (inlined by)", addr, name)
		}
		if frame.SourceFile != "" {
			fmt.Printf(" %s:%d", frame.SourceFile, frame.Line)
			if frame.Column != 0 {
				fmt.Printf(":%d", frame.Column)
			}
		}
		fmt.Println()
	}
}

func init() {
	rootCmd.AddCommand(addr2lineCmd)
	addSourceFlags(addr2lineCmd)
}
