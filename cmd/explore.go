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
	"github.com/spf13/cobra"

	"github.com/ThinkerYzu1/blazesym/cmd/explore"
)

// exploreCmd represents the explore command
var exploreCmd = &cobra.Command{
	Use:   "explore",
	Short: "interactively explore the configured symbol sources",
	Long: `interactively explore the configured symbol sources: symbolize
addresses, look up symbols by name or pattern, and disassemble code.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		srcs, err := sourcesFromFlags(cmd)
		if err != nil {
			return err
		}

		symbolizer := newSymbolizer()

		session := explore.NewSession(symbolizer, srcs)
		if elfPath, _ := cmd.Flags().GetString("elf"); elfPath != "" {
			baseStr, _ := cmd.Flags().GetString("base")
			base, err := parseAddr(baseStr)
			if err != nil {
				return err
			}
			session.ElfPath = elfPath
			session.LoadAddress = base
		}
		explore.CurrentSession = session
		session.AtExit(symbolizer.Close)
		session.Start()
		return nil
	},
}

func init() {
	rootCmd.AddCommand(exploreCmd)
	addSourceFlags(exploreCmd)
}
