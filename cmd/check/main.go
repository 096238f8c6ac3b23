// Command check statically validates contract bytecode the way StoreCode
// would, without persisting anything: parse, validate against a capability
// set, instrument and compile.
package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	contractvm "github.com/contractvm/contractvm"
	"github.com/contractvm/contractvm/engine"
	"github.com/contractvm/contractvm/validate"
)

// defaultCapabilities mirrors what mainstream chains enable.
const defaultCapabilities = "iterator,staking,stargate,cosmwasm_1_1,cosmwasm_1_2,cosmwasm_1_3,cosmwasm_1_4"

var (
	passStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true)
	failStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	dimStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

func main() {
	if err := newCheckCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newCheckCommand() *cobra.Command {
	var (
		capabilitiesCSV string
		verbose         bool
	)
	cmd := &cobra.Command{
		Use:           "check [wasm files...]",
		Short:         "Check contracts for compatibility with this VM",
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			caps := contractvm.CapabilitiesFromCSV(capabilitiesCSV)
			fmt.Printf("Available capabilities: %s\n", capabilitiesCSV)

			failed := 0
			for _, file := range args {
				if err := checkFile(cmd.Context(), file, caps, verbose); err != nil {
					fmt.Printf("%s %s: %v\n", failStyle.Render("FAIL"), file, err)
					failed++
					continue
				}
				fmt.Printf("%s %s\n", passStyle.Render("PASS"), file)
			}

			if failed > 0 {
				return fmt.Errorf("%d of %d contracts failed", failed, len(args))
			}
			fmt.Printf("All contracts (%d) passed checks!\n", len(args))
			return nil
		},
	}
	cmd.Flags().StringVar(&capabilitiesCSV, "available-capabilities", defaultCapabilities,
		"capabilities the chain offers, comma separated")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false,
		"print entry points and required capabilities per contract")
	return cmd
}

func checkFile(ctx context.Context, file string, caps map[string]struct{}, verbose bool) error {
	code, err := os.ReadFile(file)
	if err != nil {
		return err
	}
	checksum, err := contractvm.CreateChecksum(code)
	if err != nil {
		return err
	}

	mod, err := validate.ParseForValidation(code)
	if err != nil {
		return err
	}
	if err := validate.ValidateModule(mod, caps, validate.WasmLimits{}); err != nil {
		return err
	}

	// Instrumentation and native compilation can still fail on code that
	// passes static validation; run them too.
	eng := engine.MakeCompilingEngine(ctx, engine.Config{})
	defer eng.Close(ctx)
	if _, err := eng.Compile(ctx, code); err != nil {
		return err
	}

	if verbose {
		entrypoints, hasIBC := validate.Entrypoints(mod)
		fmt.Println(dimStyle.Render(fmt.Sprintf("  checksum:     %s", checksum)))
		fmt.Println(dimStyle.Render(fmt.Sprintf("  entry points: %s", strings.Join(entrypoints, ", "))))
		fmt.Println(dimStyle.Render(fmt.Sprintf("  requires:     %s", strings.Join(validate.RequiredCapabilities(mod), ", "))))
		fmt.Println(dimStyle.Render(fmt.Sprintf("  ibc:          %t", hasIBC)))
	}
	return nil
}
