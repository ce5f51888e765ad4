package explore

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"golang.org/x/arch/x86/x86asm"

	"github.com/ThinkerYzu1/blazesym/pkg/blazesym"
	"github.com/ThinkerYzu1/blazesym/pkg/elf"
)

var disassCmd = &cobra.Command{
	Use:     "disass <symbol>",
	Short:   "disassemble the machine code of a symbol",
	Aliases: []string{"dis", "disassemble"},
	Annotations: map[string]string{
		cmdGroupAnnotation: cmdGroupInfo,
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		var (
			max, _    = cmd.Flags().GetUint64("max")
			syntax, _ = cmd.Flags().GetString("syntax")
		)
		if len(args) != 1 {
			return fmt.Errorf("need exactly one symbol name")
		}
		if CurrentSession.ElfPath == "" {
			return fmt.Errorf("disass needs a session started with --elf")
		}

		opts := blazesym.FindOpts{FileOffset: true}
		results, err := CurrentSession.Symbolizer.FindAddressesOpt(CurrentSession.Sources, args, opts)
		if err != nil {
			return err
		}
		if len(results) == 0 || len(results[0]) == 0 {
			return fmt.Errorf("symbol %q not found", args[0])
		}
		sym := results[0][0]

		// The code bytes come straight from the file at the symbol's
		// file offset.
		mm, err := elf.OpenMmap(CurrentSession.ElfPath)
		if err != nil {
			return err
		}
		defer mm.Close()

		size := sym.Size
		if size == 0 || size > 1024 {
			size = 1024
		}
		dat, err := mm.Bytes(sym.FileOffset, size)
		if err != nil {
			return err
		}

		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 8, ' ', 0)

		offset := uint64(0)
		count := uint64(0)
		for count < max && offset < uint64(len(dat)) {
			inst, err := x86asm.Decode(dat[offset:], 64)
			if err != nil {
				return fmt.Errorf("x86asm decode error: %v", err)
			}

			asm, err := instSyntax(inst, syntax)
			if err != nil {
				return fmt.Errorf("x86asm syntax error: %v", err)
			}

			end := offset + uint64(inst.Len)
			fmt.Fprintf(tw, "%#x:\t% x\t%s\n", sym.Address+offset, dat[offset:end], asm)
			offset = end
			count++
		}
		tw.Flush()

		return nil
	},
}

func instSyntax(inst x86asm.Inst, syntax string) (string, error) {
	asm := ""
	switch syntax {
	case "go":
		asm = x86asm.GoSyntax(inst, uint64(inst.PCRel), nil)
	case "gnu":
		asm = x86asm.GNUSyntax(inst, uint64(inst.PCRel), nil)
	case "intel":
		asm = x86asm.IntelSyntax(inst, uint64(inst.PCRel), nil)
	default:
		return "", fmt.Errorf("invalid asm syntax error")
	}
	return asm, nil
}

func init() {
	exploreRootCmd.AddCommand(disassCmd)

	disassCmd.Flags().Uint64P("max", "n", 10, "number of instructions to disassemble")
	disassCmd.Flags().StringP("syntax", "s", "gnu", "assembly syntax: go, gnu, intel")
}
