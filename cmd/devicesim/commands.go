package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/skip2/go-qrcode"
	"github.com/spf13/cobra"

	"github.com/xelth-com/dongled/internal/devicekey"
	"github.com/xelth-com/dongled/internal/devicesim"
)

// rootOptions holds flags shared by every subcommand
type rootOptions struct {
	Server  string
	KeyFile string
	Dongle  string
	IMEI    string
	Serial  string
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:          "devicesim",
		Short:        "Simulated dongle for exercising the device bridge",
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&opts.Server, "server", "http://localhost:3001", "service base URL")
	cmd.PersistentFlags().StringVar(&opts.KeyFile, "key", "device.pem", "device private key (PEM)")
	cmd.PersistentFlags().StringVar(&opts.Dongle, "dongle", "", "dongle id assigned at registration")
	cmd.PersistentFlags().StringVar(&opts.IMEI, "imei", "000000000000000", "simulated IMEI")
	cmd.PersistentFlags().StringVar(&opts.Serial, "serial", "sim-0001", "simulated hardware serial")

	cmd.AddCommand(newKeygenCommand(opts))
	cmd.AddCommand(newRegisterCommand(opts))
	cmd.AddCommand(newPairQRCommand(opts))
	cmd.AddCommand(newConnectCommand(opts))

	return cmd
}

func (o *rootOptions) device() (*devicesim.Device, error) {
	raw, err := os.ReadFile(o.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("read key: %w", err)
	}
	key, err := devicekey.ParsePrivatePEM(raw)
	if err != nil {
		return nil, err
	}
	return &devicesim.Device{DongleID: o.Dongle, IMEI: o.IMEI, Serial: o.Serial, Key: key}, nil
}

func newKeygenCommand(opts *rootOptions) *cobra.Command {
	var alg string

	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate a device key pair",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := devicekey.Generate(devicekey.Algorithm(alg))
			if err != nil {
				return err
			}
			private, err := devicekey.MarshalPrivatePEM(key)
			if err != nil {
				return err
			}
			public, err := devicekey.MarshalPublicPEM(key.Public())
			if err != nil {
				return err
			}
			if err := os.WriteFile(opts.KeyFile, []byte(private), 0o600); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s key to %s\n\n%s", alg, opts.KeyFile, public)
			return nil
		},
	}

	cmd.Flags().StringVar(&alg, "alg", string(devicekey.ES256), "key algorithm (RS256|ES256|EdDSA)")
	return cmd
}

func newRegisterCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "register",
		Short: "Register the device and print its dongle id",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := opts.device()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			first, err := d.Register(ctx, http.DefaultClient, opts.Server)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "dongle_id: %s (first registration: %v)\n", d.DongleID, first)
			return nil
		},
	}
}

func newPairQRCommand(opts *rootOptions) *cobra.Command {
	var legacy bool

	cmd := &cobra.Command{
		Use:   "pairqr",
		Short: "Print the pairing QR code",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := opts.device()
			if err != nil {
				return err
			}
			pairing, err := d.PairingToken()
			if err != nil {
				return err
			}
			if legacy {
				pairing = d.LegacyPairingString(pairing)
			}

			qr, err := qrcode.New(pairing, qrcode.Low)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), qr.ToSmallString(false))
			fmt.Fprintln(cmd.OutOrStdout(), pairing)
			return nil
		},
	}

	cmd.Flags().BoolVar(&legacy, "legacy", false, "emit the imei--serial--token form")
	return cmd
}

func newConnectCommand(opts *rootOptions) *cobra.Command {
	var version string

	cmd := &cobra.Command{
		Use:   "connect",
		Short: "Hold the device channel open and answer commands",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := opts.device()
			if err != nil {
				return err
			}
			if d.DongleID == "" {
				return fmt.Errorf("--dongle is required")
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return d.Connect(ctx, opts.Server, devicesim.NewResponder(version))
		},
	}

	cmd.Flags().StringVar(&version, "version", "0.8.13", "version reported by getVersion")
	return cmd
}
