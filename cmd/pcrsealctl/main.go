// This file is part of pcrseal
// SPDX-License-Identifier: GPL-3.0-only

package main

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/canonical/go-tpm2"

	"github.com/suse-edge/pcrseal/bootentry"
	"github.com/suse-edge/pcrseal/digest"
	"github.com/suse-edge/pcrseal/eventlog"
	"github.com/suse-edge/pcrseal/pcrbank"
	"github.com/suse-edge/pcrseal/platform"
	"github.com/suse-edge/pcrseal/rehash"
	"github.com/suse-edge/pcrseal/runtime"
	"github.com/suse-edge/pcrseal/tpmpolicy"
)

// config is the typed option set the core consumes, built from flags in
// main() — the core itself never parses flags, per spec.
type config struct {
	eventLog       string
	rootDir        string
	espDir         string
	algo           string
	pcrMask        uint32
	targetPlatform string
	nextKernel     string
	srkRSABits     int
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "seal":
		err = runSeal(os.Args[2:])
	case "unseal":
		err = runUnseal(os.Args[2:])
	case "verify":
		err = runVerify(os.Args[2:])
	case "genkey":
		err = runGenkey(os.Args[2:])
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		log.Print(err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, "usage: %s <seal|unseal|verify|genkey> [flags]\n", os.Args[0])
}

// commonFlags registers the options every subcommand but genkey shares,
// returning the raw PCR-spec string pointer for the caller to parse after
// fs.Parse.
func commonFlags(fs *flag.FlagSet, cfg *config) *string {
	fs.StringVar(&cfg.eventLog, "log", "/sys/kernel/security/tpm0/binary_bios_measurements", "TCG event log path")
	fs.StringVar(&cfg.rootDir, "root", "/", "running root filesystem")
	fs.StringVar(&cfg.espDir, "esp", "/boot/efi", "EFI system partition mountpoint")
	fs.StringVar(&cfg.algo, "algo", "sha256", "PCR bank algorithm")
	fs.StringVar(&cfg.targetPlatform, "platform", "tpm2.0", "target platform: oldgrub|tpm2.0|systemd")
	fs.StringVar(&cfg.nextKernel, "next-kernel", "auto", "next kernel: path|auto|none")
	fs.IntVar(&cfg.srkRSABits, "srk-bits", 2048, "SRK RSA key size: 1024|2048|3072|4096")
	return fs.String("pcrs", "0,2,4,7", "comma-separated PCR indices")
}

// parsePCRMask turns a comma-separated list of PCR indices ("0,2,4,7")
// into the bitmask pcrbank.Selection expects.
func parsePCRMask(spec string) (uint32, error) {
	var mask uint32
	for _, field := range strings.Split(spec, ",") {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		n, err := strconv.Atoi(field)
		if err != nil || n < 0 || n >= pcrbank.MaxRegisters {
			return 0, fmt.Errorf("invalid PCR index %q", field)
		}
		mask |= 1 << uint(n)
	}
	return mask, nil
}

func selectionFromConfig(cfg *config) (pcrbank.Selection, error) {
	algo, ok := digest.ByName(cfg.algo)
	if !ok {
		return pcrbank.Selection{}, fmt.Errorf("%w: unknown algorithm %q", tpmpolicy.ErrUnsupportedAlgo, cfg.algo)
	}
	return pcrbank.Selection{Algo: algo, Mask: cfg.pcrMask}, nil
}

// predictBank replays cfg.eventLog through the rehash engine. With
// cfg.nextKernel "auto" it loads the next boot entry from the ESP and hands
// it to the engine; with an explicit path it passes only that path
// (BootEntryPath) and does not parse the entry file, so BootEntry stays
// nil; with "none" it passes neither.
func predictBank(cfg *config, selection pcrbank.Selection) (*pcrbank.Bank, error) {
	f, err := os.Open(cfg.eventLog)
	if err != nil {
		return nil, fmt.Errorf("opening event log: %w", err)
	}
	defer f.Close()

	surface := runtime.New(cfg.rootDir, cfg.espDir)

	opts := rehash.Options{
		Selection: selection,
		Surface:   surface,
		OnSkippedEvent: func(ev *eventlog.RawEvent) {
			log.Printf("pcrsealctl: event #%d (%s) could not be parsed; carrying its original digest forward", ev.Index, ev.Type)
		},
	}

	switch cfg.nextKernel {
	case "none":
	case "auto":
		entries, err := bootentry.Load(cfg.espDir)
		if err != nil {
			return nil, fmt.Errorf("loading boot entries: %w", err)
		}
		next := bootentry.Next(entries)
		if next == nil {
			return nil, fmt.Errorf("no boot entry found under %s", cfg.espDir)
		}
		opts.BootEntry = next
		opts.BootEntryPath = next.Path
	default:
		opts.BootEntryPath = cfg.nextKernel
	}

	reader := eventlog.NewReader(f)
	reader.OnWarning = func(msg string) {
		log.Printf("pcrsealctl: %s", msg)
	}
	return rehash.Replay(reader, opts)
}

func runSeal(args []string) error {
	fs := flag.NewFlagSet("seal", flag.ExitOnError)
	var cfg config
	pcrSpec := commonFlags(fs, &cfg)
	secretFile := fs.String("secret-file", "", "file holding the plaintext to seal (<=128 bytes)")
	out := fs.String("out", "", "output file for the sealed secret")
	signingKeyPath := fs.String("signing-key", "", "RSA private key (PEM) authorizing the policy; oldgrub/systemd only, omit for a direct PCR policy")
	pubkeyOut := fs.String("pubkey-out", "", "write the signing key's public key (PEM) here")
	systemdPolicyOut := fs.String("systemd-policy-out", "", "write the systemd signed-policy JSON document here (platform=systemd, requires -signing-key)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	mask, err := parsePCRMask(*pcrSpec)
	if err != nil {
		return err
	}
	cfg.pcrMask = mask

	if *secretFile == "" || *out == "" {
		return fmt.Errorf("seal requires -secret-file and -out")
	}

	target := platform.Name(cfg.targetPlatform)
	if _, ok := platform.Capabilities(target); !ok {
		return fmt.Errorf("unknown target platform %q", cfg.targetPlatform)
	}
	if *signingKeyPath != "" && target != platform.OldGrub && target != platform.Systemd {
		return fmt.Errorf("an authorized policy via -signing-key is only supported for -platform=%s or -platform=%s", platform.OldGrub, platform.Systemd)
	}
	if *systemdPolicyOut != "" && (target != platform.Systemd || *signingKeyPath == "") {
		return fmt.Errorf("-systemd-policy-out requires -platform=%s and -signing-key", platform.Systemd)
	}

	if err := tpmpolicy.SetSRKRSABits(cfg.srkRSABits); err != nil {
		return err
	}

	selection, err := selectionFromConfig(&cfg)
	if err != nil {
		return err
	}

	bank, err := predictBank(&cfg, selection)
	if err != nil {
		return err
	}

	tpm, err := tpmpolicy.OpenDefaultTPM()
	if err != nil {
		return err
	}
	defer tpm.Close()

	var policyDigest tpm2.Digest
	var signingPriv *rsa.PrivateKey
	if *signingKeyPath != "" {
		signingPriv, err = tpmpolicy.LoadSigningKey(*signingKeyPath)
		if err != nil {
			return err
		}
		keyName, err := tpmpolicy.PublicKeyName(&signingPriv.PublicKey)
		if err != nil {
			return err
		}
		policyDigest, err = tpmpolicy.AuthorizedPolicyDigest(tpm, selection, keyName)
		if err != nil {
			return err
		}
		if *pubkeyOut != "" {
			if err := tpmpolicy.StorePublicKey(&signingPriv.PublicKey, *pubkeyOut); err != nil {
				return err
			}
		}
	} else {
		policyDigest, err = tpmpolicy.PCRPolicyDigest(tpm, bank)
		if err != nil {
			return err
		}
	}

	plaintext, err := os.ReadFile(*secretFile)
	if err != nil {
		return err
	}

	blob, err := tpmpolicy.Seal(tpm, policyDigest, plaintext)
	if err != nil {
		return err
	}

	var data []byte
	switch target {
	case platform.OldGrub:
		data, err = platform.WriteOldGrubSealedSecret(blob)
	case platform.TPM20, platform.Systemd:
		entry, buildErr := tpmpolicy.BuildPCRPolicyEntry(bank)
		if buildErr != nil {
			return buildErr
		}
		data, err = platform.WriteTPM2Key(blob, []tpmpolicy.PolicySequenceEntry{entry})
	}
	if err != nil {
		return err
	}

	if err := os.WriteFile(*out, data, 0o600); err != nil {
		return fmt.Errorf("writing sealed secret: %w", err)
	}
	log.Printf("pcrsealctl: sealed secret written to %s", *out)

	if *systemdPolicyOut != "" {
		doc := platform.SystemdDocument{}
		if err := platform.AppendSystemdEntry(doc, cfg.algo, tpm, bank, signingPriv); err != nil {
			return err
		}
		docData, err := platform.WriteSystemdDocument(doc)
		if err != nil {
			return err
		}
		if err := os.WriteFile(*systemdPolicyOut, docData, 0o644); err != nil {
			return fmt.Errorf("writing systemd signed-policy document: %w", err)
		}
		log.Printf("pcrsealctl: systemd signed-policy document written to %s", *systemdPolicyOut)
	}
	return nil
}

func runUnseal(args []string) error {
	fs := flag.NewFlagSet("unseal", flag.ExitOnError)
	var cfg config
	pcrSpec := commonFlags(fs, &cfg)
	in := fs.String("in", "", "sealed secret file")
	sigFile := fs.String("sig", "", "detached signature file (oldgrub authorized unseal)")
	pubkeyFile := fs.String("pubkey", "", "public key file (oldgrub authorized unseal)")
	out := fs.String("out", "", "write the recovered plaintext here (default: stdout)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	mask, err := parsePCRMask(*pcrSpec)
	if err != nil {
		return err
	}
	cfg.pcrMask = mask

	if *in == "" {
		return fmt.Errorf("unseal requires -in")
	}

	selection, err := selectionFromConfig(&cfg)
	if err != nil {
		return err
	}

	bank, err := predictBank(&cfg, selection)
	if err != nil {
		return err
	}

	tpm, err := tpmpolicy.OpenDefaultTPM()
	if err != nil {
		return err
	}
	defer tpm.Close()

	data, err := os.ReadFile(*in)
	if err != nil {
		return err
	}

	var plaintext []byte
	switch platform.Name(cfg.targetPlatform) {
	case platform.OldGrub:
		blob, err := platform.ReadOldGrubSealedSecret(data)
		if err != nil {
			return err
		}
		if *sigFile != "" {
			sigData, err := os.ReadFile(*sigFile)
			if err != nil {
				return err
			}
			sig, err := platform.ReadOldGrubSignedPolicy(sigData)
			if err != nil {
				return err
			}
			pub, err := tpmpolicy.LoadPublicKey(*pubkeyFile)
			if err != nil {
				return err
			}
			plaintext, err = platform.UnsealOldGrubAuthorized(tpm, bank, pub, sig, blob)
			if err != nil {
				return err
			}
		} else {
			plaintext, err = platform.UnsealOldGrub(tpm, bank, blob)
			if err != nil {
				return err
			}
		}
	case platform.TPM20:
		plaintext, err = platform.UnsealTPM2Key(tpm, tpm2.HashAlgorithmId(selection.Algo.ID), data)
		if err != nil {
			return err
		}
	default:
		return fmt.Errorf("unseal is not implemented for target platform %q", cfg.targetPlatform)
	}

	if *out == "" {
		_, err = os.Stdout.Write(plaintext)
		return err
	}
	return os.WriteFile(*out, plaintext, 0o600)
}

func runVerify(args []string) error {
	fs := flag.NewFlagSet("verify", flag.ExitOnError)
	var cfg config
	pcrSpec := commonFlags(fs, &cfg)
	if err := fs.Parse(args); err != nil {
		return err
	}

	mask, err := parsePCRMask(*pcrSpec)
	if err != nil {
		return err
	}
	cfg.pcrMask = mask

	selection, err := selectionFromConfig(&cfg)
	if err != nil {
		return err
	}

	predicted, err := predictBank(&cfg, selection)
	if err != nil {
		return err
	}

	tpm, err := tpmpolicy.OpenDefaultTPM()
	if err != nil {
		return err
	}
	defer tpm.Close()

	live := pcrbank.New(selection.Algo, selection.Mask)
	if err := live.InitFromCurrent(nil, tpm); err != nil {
		return err
	}

	mismatches := 0
	for i := 0; i < pcrbank.MaxRegisters; i++ {
		if !predicted.Wants(i) {
			continue
		}
		predictedValue, err := predicted.Get(i)
		if err != nil {
			return err
		}
		liveValue, err := live.Get(i)
		if err != nil {
			return err
		}
		if string(predictedValue.Bytes) != string(liveValue.Bytes) {
			mismatches++
			fmt.Printf("PCR %d: predicted %x, live %x\n", i, predictedValue.Bytes, liveValue.Bytes)
		}
	}

	surface := runtime.New(cfg.rootDir, cfg.espDir)
	if sb, err := surface.SecureBootEnabled(); err == nil && !sb {
		log.Printf("pcrsealctl: warning: Secure Boot is disabled; PCR 7 prediction is not meaningful")
	}

	if mismatches > 0 {
		return fmt.Errorf("%d PCR mismatch(es) between prediction and live bank", mismatches)
	}
	fmt.Println("prediction matches the live bank")
	return nil
}

func runGenkey(args []string) error {
	fs := flag.NewFlagSet("genkey", flag.ExitOnError)
	bits := fs.Int("bits", 2048, "RSA key size: 1024|2048|3072|4096")
	privOut := fs.String("priv-out", "", "write the PEM-encoded private key here")
	pubOut := fs.String("pub-out", "", "write the PEM-encoded public key here")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *privOut == "" || *pubOut == "" {
		return fmt.Errorf("genkey requires -priv-out and -pub-out")
	}

	priv, err := tpmpolicy.GenerateSigningKey(*bits)
	if err != nil {
		return err
	}

	block := &pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(priv)}
	if err := os.WriteFile(*privOut, pem.EncodeToMemory(block), 0o600); err != nil {
		return err
	}
	if err := tpmpolicy.StorePublicKey(&priv.PublicKey, *pubOut); err != nil {
		return err
	}
	log.Printf("pcrsealctl: wrote signing key pair to %s / %s", *privOut, *pubOut)
	return nil
}
