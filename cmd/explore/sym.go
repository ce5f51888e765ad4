package explore

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ThinkerYzu1/blazesym/pkg/blazesym"
)

var symCmd = &cobra.Command{
	Use:     "sym <name>...",
	Short:   "look up symbols by exact name",
	Aliases: []string{"s"},
	Annotations: map[string]string{
		cmdGroupAnnotation: cmdGroupLookup,
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 0 {
			return fmt.Errorf("need at least one symbol name")
		}
		opts := blazesym.FindOpts{FileOffset: true, ObjPath: true}
		results, err := CurrentSession.Symbolizer.FindAddressesOpt(CurrentSession.Sources, args, opts)
		if err != nil {
			return err
		}
		for i, infos := range results {
			if len(infos) == 0 {
				fmt.Printf("%s: not found\n", args[i])
				continue
			}
			for _, info := range infos {
				fmt.Printf("%s %#x size=%d %s %s\n",
					info.Name, info.Address, info.Size, info.Kind, info.ObjPath)
			}
		}
		return nil
	},
}

var grepCmd = &cobra.Command{
	Use:     "grep <pattern>",
	Short:   "look up symbols matching a regular expression",
	Aliases: []string{"g"},
	Annotations: map[string]string{
		cmdGroupAnnotation: cmdGroupLookup,
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) != 1 {
			return fmt.Errorf("need exactly one pattern")
		}
		opts := blazesym.FindOpts{ObjPath: true}
		infos, err := CurrentSession.Symbolizer.FindAddressRegexOpt(CurrentSession.Sources, args[0], opts)
		if err != nil {
			return err
		}
		if len(infos) == 0 {
			fmt.Printf("%s: no matches\n", args[0])
			return nil
		}
		for _, info := range infos {
			fmt.Printf("%s %#x size=%d %s %s\n",
				info.Name, info.Address, info.Size, info.Kind, info.ObjPath)
		}
		return nil
	},
}

func init() {
	exploreRootCmd.AddCommand(symCmd)
	exploreRootCmd.AddCommand(grepCmd)
}
