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
	"errors"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ThinkerYzu1/blazesym/pkg/blazesym"
)

// addSourceFlags registers the symbol-source flags shared by the
// commands that need one or more sources configured.
func addSourceFlags(cmd *cobra.Command) {
	cmd.Flags().Int("pid", 0, "symbolize against the mapped objects of this process")
	cmd.Flags().String("elf", "", "symbolize against this ELF file")
	cmd.Flags().String("base", "0", "load address of the --elf object (hex accepted)")
	cmd.Flags().Bool("kernel", false, "symbolize against the kernel")
	cmd.Flags().String("kallsyms", "", "path of a kallsyms copy (default /proc/kallsyms)")
	cmd.Flags().String("kernel-image", "", "path of a kernel image with debug info")
}

// sourcesFromFlags assembles the symbol sources selected on the
// command line, falling back to config file values for the kernel
// paths.
func sourcesFromFlags(cmd *cobra.Command) ([]blazesym.SymSrc, error) {
	var srcs []blazesym.SymSrc

	pid, _ := cmd.Flags().GetInt("pid")
	if pid > 0 {
		srcs = append(srcs, blazesym.Process{Pid: pid})
	}

	elfPath, _ := cmd.Flags().GetString("elf")
	if elfPath != "" {
		baseStr, _ := cmd.Flags().GetString("base")
		base, err := parseAddr(baseStr)
		if err != nil {
			return nil, err
		}
		srcs = append(srcs, blazesym.Elf{Path: elfPath, LoadAddress: base})
	}

	useKernel, _ := cmd.Flags().GetBool("kernel")
	kallsyms, _ := cmd.Flags().GetString("kallsyms")
	image, _ := cmd.Flags().GetString("kernel-image")
	if kallsyms == "" {
		kallsyms = viper.GetString("kallsyms")
	}
	if image == "" {
		image = viper.GetString("kernel-image")
	}
	if useKernel || kallsyms != "" || image != "" {
		srcs = append(srcs, blazesym.Kernel{Kallsyms: kallsyms, KernelImage: image})
	}

	if len(srcs) == 0 {
		return nil, errors.New("no symbol source given, use --pid, --elf or --kernel")
	}
	return srcs, nil
}

// newSymbolizer builds a Symbolizer honoring the demangle switch from
// the config file.
func newSymbolizer() *blazesym.Symbolizer {
	return blazesym.New(blazesym.WithDemangling(viper.GetBool("demangle")))
}

// parseAddr parses a decimal or 0x-prefixed hexadecimal address.
func parseAddr(s string) (uint64, error) {
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		return strconv.ParseUint(s[2:], 16, 64)
	}
	return strconv.ParseUint(s, 10, 64)
}
