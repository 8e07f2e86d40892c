package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
	"k8s.io/klog/v2"

	"github.com/steed-rs/ngdp/casc"
	"github.com/steed-rs/ngdp/casc/idx"
	"github.com/steed-rs/ngdp/tact/keys"
)

func loadKeysFile(k *keys.TactKeys, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open keys-file: %w", err)
	}
	defer f.Close()
	if err := k.LoadText(f); err != nil {
		return fmt.Errorf("load keys-file: %w", err)
	}
	return nil
}

func newCmdVerify() *cli.Command {
	return &cli.Command{
		Name:        "verify",
		Usage:       "read every idx entry and re-decode its BLTE frame",
		Description: "Opens a local data directory without any remote manifests and decodes every entry in every idx bucket, logging each checksum or BLTE failure and reporting how many entries failed.",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "data-dir", Required: true, Usage: "local CASC data directory"},
			&cli.StringFlag{Name: "keys-file", Usage: "path to a TACT key-name/key text file for BLTE mode E content"},
		},
		Action: func(c *cli.Context) error {
			k := keys.New()
			if path := c.String("keys-file"); path != "" {
				if err := loadKeysFile(k, path); err != nil {
					return err
				}
			}

			store, err := casc.Open(c.String("data-dir"), nil, k)
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer store.Close()

			var total, failed int
			for b := 0; b < idx.NumBuckets; b++ {
				entries := store.BucketEntries(uint8(b))
				for _, e := range entries {
					total++
					if _, err := store.ReadByEKeyShort(e.Key); err != nil {
						failed++
						klog.Errorf("verify: bucket %02x entry %x: %v", b, e.Key, err)
					}
				}
			}

			klog.Infof("verify: checked %d entries, %d failed", total, failed)
			if failed > 0 {
				return fmt.Errorf("verify: %d/%d entries failed", failed, total)
			}
			return nil
		},
	}
}
