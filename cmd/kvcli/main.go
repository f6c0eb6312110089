// cmd/kvcli is the CLI entry-point for talking to a causalkv cluster,
// built with Cobra. Each subcommand starts from empty causal-metadata and
// discards it when the process exits, so causal chaining ("put then get,
// see your own write") does not carry across separate invocations.
//
// Usage:
//
//	kvcli put mykey "hello world"  --server http://localhost:8081
//	kvcli get mykey                --server http://localhost:8081
//	kvcli ping                     --server http://localhost:8081
//	kvcli view get                 --server http://localhost:8081
//	kvcli view put view.json       --server http://localhost:8081
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppriyankuu-student/causalkv/internal/kvclient"
)

var (
	serverAddr string
	timeout    time.Duration
)

func main() {
	root := &cobra.Command{
		Use:   "kvcli",
		Short: "CLI client for a causalkv cluster",
	}

	root.PersistentFlags().StringVarP(&serverAddr, "server", "s",
		"http://localhost:8081", "causalkv node address")
	root.PersistentFlags().DurationVar(&timeout, "timeout", 10*time.Second,
		"request timeout")

	root.AddCommand(putCmd(), getCmd(), pingCmd(), viewCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func putCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "put <key> <value>",
		Short: "Store a key-value pair",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()
			c := kvclient.New(serverAddr)
			if err := c.Put(ctx, args[0], args[1]); err != nil {
				return err
			}
			fmt.Println("ok")
			return nil
		},
	}
}

func getCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <key>",
		Short: "Retrieve a value by key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()
			c := kvclient.New(serverAddr)
			v, err := c.Get(ctx, args[0])
			if err == kvclient.ErrNotFound {
				fmt.Printf("key %q not found\n", args[0])
				return nil
			}
			if err != nil {
				return err
			}
			fmt.Println(v)
			return nil
		},
	}
}

func pingCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ping",
		Short: "Check that a node answers",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()
			c := kvclient.New(serverAddr)
			msg, err := c.Ping(ctx)
			if err != nil {
				return err
			}
			fmt.Println(msg)
			return nil
		},
	}
}

func viewCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "view",
		Short: "Inspect or install the cluster view",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "get",
		Short: "Print the currently installed view",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()
			c := kvclient.New(serverAddr)
			v, err := c.ViewGet(ctx)
			if err != nil {
				return err
			}
			return prettyPrint(v)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "put <file.json>",
		Short: "Install a new cluster view from a JSON file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()
			c := kvclient.New(serverAddr)
			return c.ViewPut(ctx, data)
		},
	})

	return cmd
}

func prettyPrint(v json.RawMessage) error {
	var pretty map[string]any
	if err := json.Unmarshal(v, &pretty); err != nil {
		fmt.Println(string(v))
		return nil
	}
	data, err := json.MarshalIndent(pretty, "", "  ")
	if err != nil {
		fmt.Println(string(v))
		return nil
	}
	fmt.Println(string(data))
	return nil
}
