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

	"github.com/spf13/cobra"

	"github.com/ThinkerYzu1/blazesym/pkg/blazesym"
)

// findaddrCmd represents the findaddr command
var findaddrCmd = &cobra.Command{
	Use:   "findaddr <name>...",
	Short: "look up symbol addresses by name or pattern",
	Long: `look up symbol addresses by exact name, or by regular expression
with --regex.

Examples:
  blazesym findaddr --kernel start_kernel
  blazesym findaddr --elf ./a.out --regex '^fib'`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		srcs, err := sourcesFromFlags(cmd)
		if err != nil {
			return err
		}

		symbolizer := newSymbolizer()
		defer symbolizer.Close()

		opts := blazesym.FindOpts{FileOffset: true, ObjPath: true}

		useRegex, _ := cmd.Flags().GetBool("regex")
		if useRegex {
			for _, pattern := range args {
				infos, err := symbolizer.FindAddressRegexOpt(srcs, pattern, opts)
				if err != nil {
					return err
				}
				printSymbolInfos(infos)
			}
			return nil
		}

		results, err := symbolizer.FindAddressesOpt(srcs, args, opts)
		if err != nil {
			return err
		}
		for i, infos := range results {
			if len(infos) == 0 {
				fmt.Printf("%s: not found\n", args[i])
				continue
			}
			printSymbolInfos(infos)
		}
		return nil
	},
}

func printSymbolInfos(infos []blazesym.SymbolInfo) {
	for _, info := range infos {
		fmt.Printf("%s %#x size=%d %s %s\n",
			info.Name, info.Address, info.Size, info.Kind, info.ObjPath)
	}
}

func init() {
	rootCmd.AddCommand(findaddrCmd)
	addSourceFlags(findaddrCmd)

	findaddrCmd.Flags().Bool("regex", false, "treat arguments as regular expressions")
}
