// Command shelltrack drives the shellcode tracking core against a raw x86
// shellcode sample under a Unicorn-backed CPU harness, writing a
// machine-parseable trace log and optionally serving live status for the
// dashboard subcommand to poll.
package main

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/cherry-wb/argos/internal/argos"
	"github.com/cherry-wb/argos/internal/config"
	"github.com/cherry-wb/argos/internal/cpux86"
	"github.com/cherry-wb/argos/internal/dashboard"
	"github.com/cherry-wb/argos/internal/log"
	"github.com/cherry-wb/argos/internal/statusapi"
	"github.com/cherry-wb/argos/internal/taint"
	"github.com/cherry-wb/argos/internal/tracelog"
)

var (
	verbose    bool
	configPath string
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "shelltrack",
		Short: "Dynamic shellcode execution tracker",
	}
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML config file")
	root.AddCommand(runCmd(), infoCmd(), dashboardCmd())
	return root
}

func loadConfig() config.Config {
	if configPath == "" {
		return config.Default()
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		log.L.Warn("failed to load config, using defaults", zap.Error(err))
		return config.Default()
	}
	return cfg
}

func runCmd() *cobra.Command {
	var (
		shellcodePath string
		loadAddr      uint64
		entryOffset   uint64
		statusAddr    string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a shellcode sample under single-step tracking",
		RunE: func(cmd *cobra.Command, args []string) error {
			log.Init(verbose)
			cfg := loadConfig()

			data, err := os.ReadFile(shellcodePath)
			if err != nil {
				return fmt.Errorf("read shellcode %s: %w", shellcodePath, err)
			}

			harness, err := cpux86.New()
			if err != nil {
				return err
			}
			defer harness.Close()

			const mapSize = 0x100000
			if err := harness.MapMemory(loadAddr, mapSize); err != nil {
				return err
			}
			if err := harness.WriteMemory(loadAddr, data); err != nil {
				return fmt.Errorf("load shellcode into guest memory: %w", err)
			}

			shadow := taint.New()
			shadow.Taint(uint32(loadAddr), uint32(len(data)), 1)

			instanceID := uuid.NewString()
			tracePath := filepath.Join(cfg.TraceDir, tracelog.FileName(instanceID))

			tc, err := argos.Open(harness, harness, shadow, harness, tracePath, cfg)
			if err != nil {
				return err
			}
			defer tc.Stop()

			harness.AttachCore(tc)

			if statusAddr != "" {
				srv := statusapi.New(tc)
				go func() {
					if err := http.ListenAndServe(statusAddr, srv.Handler()); err != nil {
						log.L.Warn("status server stopped", zap.Error(err))
					}
				}()
				log.L.Info("serving status", zap.String("addr", statusAddr))
			}

			tc.Enable()

			entry := loadAddr + entryOffset
			for tc.IsActive() {
				if err := harness.Run(entry, 0); err != nil {
					break
				}
				entry = uint64(harness.EIP())
			}

			snap := tc.Snapshot()
			fmt.Printf("stopped: phase=%v instructions=%d stage=%d modules=%d\n",
				snap.Phase, snap.InstructionCount, snap.Stage, snap.ModuleCount)
			fmt.Printf("trace written to %s\n", tracePath)
			return nil
		},
	}

	cmd.Flags().StringVar(&shellcodePath, "shellcode", "", "path to a raw shellcode binary")
	cmd.Flags().Uint64Var(&loadAddr, "load-addr", 0x400000, "guest address to map and load the shellcode at")
	cmd.Flags().Uint64Var(&entryOffset, "entry-offset", 0, "entry point offset from load-addr")
	cmd.Flags().StringVar(&statusAddr, "status-addr", "", "if set, serve live status as JSON on this address (e.g. :8080)")
	_ = cmd.MarkFlagRequired("shellcode")
	return cmd
}

func infoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Print tracker build and architecture information",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println("shelltrack - dynamic shellcode execution tracker")
			fmt.Println("guest architecture: x86-32")
			fmt.Println("cpu engine: unicorn")
			return nil
		},
	}
}

func dashboardCmd() *cobra.Command {
	var (
		statusURL string
		tracePath string
	)
	cmd := &cobra.Command{
		Use:   "dashboard",
		Short: "Watch a running tracker's status and trace log live",
		RunE: func(cmd *cobra.Command, args []string) error {
			return dashboard.Run(statusURL, tracePath)
		},
	}
	cmd.Flags().StringVar(&statusURL, "status-url", "http://localhost:8080/status", "tracker status endpoint")
	cmd.Flags().StringVar(&tracePath, "trace", "", "trace log file to tail")
	_ = cmd.MarkFlagRequired("trace")
	return cmd
}
