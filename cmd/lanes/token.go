package main

import (
	"fmt"
	"strconv"

	"github.com/foxzi/lanes/internal/config"
	"github.com/foxzi/lanes/internal/token"
	"github.com/spf13/cobra"
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint and inspect recipient tokens",
}

var tokenMintCmd = &cobra.Command{
	Use:   "mint <recipient-id> [delivery-id]",
	Short: "Mint a signed recipient token",
	Args:  cobra.RangeArgs(1, 2),
	RunE:  runTokenMint,
}

var tokenCheckCmd = &cobra.Command{
	Use:   "check <token>",
	Short: "Verify a recipient token and print its claims",
	Args:  cobra.ExactArgs(1),
	RunE:  runTokenCheck,
}

func init() {
	tokenCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "/etc/lanes/lanes.yaml", "Path to configuration file")
	tokenCmd.AddCommand(tokenMintCmd)
	tokenCmd.AddCommand(tokenCheckCmd)
}

func newCodec() (*token.Codec, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, err
	}
	return token.NewCodec(cfg.Secret)
}

func runTokenMint(cmd *cobra.Command, args []string) error {
	codec, err := newCodec()
	if err != nil {
		return err
	}

	recipientID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid recipient id %q: %w", args[0], err)
	}

	var tok string
	if len(args) == 2 {
		deliveryID, err := strconv.ParseInt(args[1], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid delivery id %q: %w", args[1], err)
		}
		tok, err = codec.Mint(recipientID, deliveryID)
		if err != nil {
			return err
		}
	} else {
		tok, err = codec.Mint(recipientID)
		if err != nil {
			return err
		}
	}

	fmt.Println(tok)
	return nil
}

func runTokenCheck(cmd *cobra.Command, args []string) error {
	codec, err := newCodec()
	if err != nil {
		return err
	}

	recipientID, deliveryID, err := codec.Parse(args[0])
	if err != nil {
		return err
	}

	fmt.Printf("recipient: %d\n", recipientID)
	if deliveryID > 0 {
		fmt.Printf("delivery:  %d\n", deliveryID)
	}
	return nil
}
