package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"runtime"
	"runtime/debug"

	"github.com/fatih/color"
	"github.com/go-errors/errors"
	"github.com/integrii/flaggy"
	"github.com/samber/lo"

	"github.com/gpgme-go/gogpgme/pkg/engineconfig"
	"github.com/gpgme-go/gogpgme/pkg/gpgdata"
	"github.com/gpgme-go/gogpgme/pkg/gpgme"
	"github.com/gpgme-go/gogpgme/pkg/gpgmelog"
	"github.com/gpgme-go/gogpgme/pkg/ops"
	"github.com/gpgme-go/gogpgme/pkg/opresult"
	"github.com/gpgme-go/gogpgme/pkg/utils"
)

const defaultVersion = "unversioned"

var (
	commit  string
	version = defaultVersion
	date    string

	configDirFlag string
	cmsFlag       bool
	armorFlag     bool
	debugFlag     bool

	decryptCmd    = flaggy.NewSubcommand("decrypt")
	decryptIn     string
	decryptOut    string

	encryptCmd       = flaggy.NewSubcommand("encrypt")
	encryptIn        string
	encryptOut       string
	encryptRecipient []string
	encryptTrust     bool

	signCmd  = flaggy.NewSubcommand("sign")
	signIn   string
	signOut  string
	signMode string

	verifyCmd    = flaggy.NewSubcommand("verify")
	verifySig    string
	verifySigned string

	importCmd  = flaggy.NewSubcommand("import")
	importFile string

	exportCmd     = flaggy.NewSubcommand("export")
	exportOut     string
	exportPattern []string

	genkeyCmd    = flaggy.NewSubcommand("genkey")
	genkeyParams string

	deleteCmd        = flaggy.NewSubcommand("delete")
	deleteFingerprint string
	deleteSecret      bool

	keylistCmd     = flaggy.NewSubcommand("keylist")
	keylistSecret  bool
	keylistPattern []string
)

func main() {
	updateBuildInfo()

	info := fmt.Sprintf("%s\nDate: %s\nCommit: %s\nOS: %s\nArch: %s",
		version, date, commit, runtime.GOOS, runtime.GOARCH)

	flaggy.SetName("gogpgme-cli")
	flaggy.SetDescription("A thin command-line driver for the gogpgme engine")
	flaggy.DefaultParser.AdditionalHelpPrepend = "https://github.com/gpgme-go/gogpgme"
	flaggy.SetVersion(info)

	flaggy.String(&configDirFlag, "c", "config-dir", "Override the engine config directory (engines.yml lives here)")
	flaggy.Bool(&cmsFlag, "", "cms", "Use the CMS (gpgsm) protocol instead of OpenPGP")
	flaggy.Bool(&armorFlag, "a", "armor", "Request ASCII-armored output")
	flaggy.Bool(&debugFlag, "d", "debug", "Log engine status lines to stderr")

	decryptCmd.Description = "Decrypt a ciphertext file"
	decryptCmd.AddPositionalValue(&decryptIn, "ciphertext", 1, true, "Path to the ciphertext")
	decryptCmd.AddPositionalValue(&decryptOut, "plaintext", 2, true, "Path to write the recovered plaintext")
	flaggy.AttachSubcommand(decryptCmd, 1)

	encryptCmd.Description = "Encrypt a plaintext file to one or more recipients"
	encryptCmd.AddPositionalValue(&encryptIn, "plaintext", 1, true, "Path to the plaintext")
	encryptCmd.AddPositionalValue(&encryptOut, "ciphertext", 2, true, "Path to write the ciphertext")
	encryptCmd.StringSlice(&encryptRecipient, "r", "recipient", "Recipient key ID or fingerprint (repeatable)")
	encryptCmd.Bool(&encryptTrust, "", "always-trust", "Skip validity checks on recipient keys")
	flaggy.AttachSubcommand(encryptCmd, 1)

	signCmd.Description = "Sign a plaintext file"
	signCmd.AddPositionalValue(&signIn, "plaintext", 1, true, "Path to the plaintext")
	signCmd.AddPositionalValue(&signOut, "signature", 2, true, "Path to write the signature")
	signCmd.String(&signMode, "m", "mode", "One of normal, detach, clear (default normal)")
	flaggy.AttachSubcommand(signCmd, 1)

	verifyCmd.Description = "Verify a signature"
	verifyCmd.AddPositionalValue(&verifySig, "signature", 1, true, "Path to the signature (or combined opaque signature)")
	verifyCmd.AddPositionalValue(&verifySigned, "signed-text", 2, false, "Path to the signed text, for detached signatures")
	flaggy.AttachSubcommand(verifyCmd, 1)

	importCmd.Description = "Import keys"
	importCmd.AddPositionalValue(&importFile, "keyfile", 1, true, "Path to the key material to import")
	flaggy.AttachSubcommand(importCmd, 1)

	exportCmd.Description = "Export keys"
	exportCmd.AddPositionalValue(&exportOut, "output", 1, true, "Path to write the exported keys")
	exportCmd.StringSlice(&exportPattern, "p", "pattern", "Key pattern to export (repeatable, default all)")
	flaggy.AttachSubcommand(exportCmd, 1)

	genkeyCmd.Description = "Generate a key from a batch parameter file"
	genkeyCmd.AddPositionalValue(&genkeyParams, "params", 1, true, "Path to the key generation parameters")
	flaggy.AttachSubcommand(genkeyCmd, 1)

	deleteCmd.Description = "Delete a key"
	deleteCmd.AddPositionalValue(&deleteFingerprint, "fingerprint", 1, true, "Fingerprint of the key to delete")
	deleteCmd.Bool(&deleteSecret, "s", "secret", "Delete the secret key instead of the public key")
	flaggy.AttachSubcommand(deleteCmd, 1)

	keylistCmd.Description = "List keys"
	keylistCmd.Bool(&keylistSecret, "s", "secret", "List secret keys instead of public keys")
	keylistCmd.StringSlice(&keylistPattern, "p", "pattern", "Key pattern to match (repeatable, default all)")
	flaggy.AttachSubcommand(keylistCmd, 1)

	flaggy.Parse()

	if err := run(); err != nil {
		newErr := errors.Wrap(err, 0)
		log.Fatalf("%s\n\n%s", "gogpgme-cli: operation failed", newErr.ErrorStack())
	}
}

func run() error {
	configDir := configDirFlag
	if configDir == "" {
		configDir = engineconfig.ConfigDirDefault("gpgme-go", "gogpgme")
	}

	cfg, err := engineconfig.Discover(configDir)
	if err != nil {
		return err
	}

	proto := gpgme.ProtocolOpenPGP
	engineInfo := cfg.OpenPGP
	if cmsFlag {
		proto = gpgme.ProtocolCMS
		engineInfo = cfg.CMS
	}
	if !engineInfo.Satisfies() {
		return fmt.Errorf("gogpgme-cli: engine %q (version %s) does not meet the required floor %s",
			engineInfo.FileName, engineInfo.Version, engineInfo.ReqVersion)
	}

	logger := gpgmelog.New(gpgmelog.Options{Debug: debugFlag, Version: version})
	c := gpgme.New(proto, engineInfo.Binding(os.Environ()))
	c.Logger = logger
	c.SetArmor(armorFlag)

	ctx := context.Background()

	switch {
	case decryptCmd.Used:
		return runDecrypt(ctx, c)
	case encryptCmd.Used:
		return runEncrypt(ctx, c)
	case signCmd.Used:
		return runSign(ctx, c)
	case verifyCmd.Used:
		return runVerify(ctx, c)
	case importCmd.Used:
		return runImport(ctx, c)
	case exportCmd.Used:
		return runExport(ctx, c)
	case genkeyCmd.Used:
		return runGenKey(ctx, c)
	case deleteCmd.Used:
		return c.DeleteKey(ctx, deleteSecret, deleteFingerprint)
	case keylistCmd.Used:
		return runKeyList(ctx, c)
	default:
		flaggy.ShowHelpAndExit("a subcommand is required")
		return nil
	}
}

func openInput(path string) (*gpgdata.File, *os.File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	return gpgdata.NewFile(f), f, nil
}

func createOutput(path string) (*gpgdata.File, *os.File, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, err
	}
	return gpgdata.NewFile(f), f, nil
}

func runDecrypt(ctx context.Context, c *gpgme.Context) error {
	in, inFile, err := openInput(decryptIn)
	if err != nil {
		return err
	}
	defer inFile.Close()
	out, outFile, err := createOutput(decryptOut)
	if err != nil {
		return err
	}
	defer outFile.Close()

	res, err := c.Decrypt(ctx, in, out)
	if err != nil {
		return err
	}
	size := int64(0)
	if info, statErr := outFile.Stat(); statErr == nil {
		size = info.Size()
	}
	fmt.Println(
		utils.ColoredString("decryption okay", color.FgGreen),
		"integrity-protected:", res.IsIntegrityProtected,
		"size:", utils.FormatBinaryBytes(size),
	)
	return nil
}

func runEncrypt(ctx context.Context, c *gpgme.Context) error {
	in, inFile, err := openInput(encryptIn)
	if err != nil {
		return err
	}
	defer inFile.Close()
	out, outFile, err := createOutput(encryptOut)
	if err != nil {
		return err
	}
	defer outFile.Close()

	_, err = c.Encrypt(ctx, encryptTrust, encryptRecipient, in, out)
	if err != nil {
		return err
	}
	fmt.Println(color.GreenString("encrypted to"), encryptOut)
	return nil
}

func runSign(ctx context.Context, c *gpgme.Context) error {
	in, inFile, err := openInput(signIn)
	if err != nil {
		return err
	}
	defer inFile.Close()
	out, outFile, err := createOutput(signOut)
	if err != nil {
		return err
	}
	defer outFile.Close()

	mode := ops.SignNormal
	switch signMode {
	case "", "normal":
		mode = ops.SignNormal
	case "detach":
		mode = ops.SignDetach
	case "clear":
		mode = ops.SignClear
	default:
		return fmt.Errorf("gogpgme-cli: unknown sign mode %q", signMode)
	}

	res, err := c.Sign(ctx, mode, in, out)
	if err != nil {
		return err
	}
	for _, sig := range res.Signatures {
		fmt.Println(color.CyanString("signed"), sig.Fingerprint)
	}
	return nil
}

func runVerify(ctx context.Context, c *gpgme.Context) error {
	blob, blobFile, err := openInput(verifySig)
	if err != nil {
		return err
	}
	defer blobFile.Close()

	var res *opresult.VerifyResult
	if verifySigned != "" {
		// Detached: verifySig is the signature, verifySigned is the signed text.
		signed, signedFile, err := openInput(verifySigned)
		if err != nil {
			return err
		}
		defer signedFile.Close()
		res, err = c.Verify(ctx, blob, signed, nil)
		if err != nil {
			return err
		}
	} else {
		// Opaque: verifySig carries the combined signature-plus-signed-text blob.
		plaintext := gpgdata.NewMemory()
		res, err = c.Verify(ctx, nil, blob, plaintext)
		if err != nil {
			return err
		}
	}
	for _, sv := range res.Signatures {
		label := color.GreenString("good")
		if sv.Status != nil {
			label = color.RedString("bad")
		}
		fmt.Printf("%s signature from %s\n", label, sv.Fingerprint)
	}
	return nil
}

func runImport(ctx context.Context, c *gpgme.Context) error {
	in, inFile, err := openInput(importFile)
	if err != nil {
		return err
	}
	defer inFile.Close()

	res, err := c.Import(ctx, in)
	if err != nil {
		return err
	}
	fmt.Printf("considered: %d, imported: %d, unchanged: %d\n", res.Considered, res.Imported, res.Unchanged)
	return nil
}

func runExport(ctx context.Context, c *gpgme.Context) error {
	out, outFile, err := createOutput(exportOut)
	if err != nil {
		return err
	}
	defer outFile.Close()

	return c.Export(ctx, exportPattern, out)
}

func runGenKey(ctx context.Context, c *gpgme.Context) error {
	params, paramsFile, err := openInput(genkeyParams)
	if err != nil {
		return err
	}
	defer paramsFile.Close()

	fpr, err := c.GenKey(ctx, params)
	if err != nil {
		return err
	}
	fmt.Println(color.GreenString("generated"), fpr)
	return nil
}

func runKeyList(ctx context.Context, c *gpgme.Context) error {
	var rows [][]string
	err := c.KeyListFunc(ctx, keylistSecret, keylistPattern, func(k *gpgme.Key) {
		uid := ""
		if len(k.UserIDs) > 0 {
			uid = k.UserIDs[0].Name
		}
		rows = append(rows, []string{
			utils.ColoredString(k.KeyID, color.FgCyan),
			k.Fingerprint,
			uid,
		})
	})
	if err != nil {
		return err
	}
	table, err := utils.RenderTable(rows)
	if err != nil {
		return err
	}
	fmt.Println(table)
	return nil
}

func updateBuildInfo() {
	if version != defaultVersion {
		return
	}
	buildInfo, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}
	revision, ok := lo.Find(buildInfo.Settings, func(setting debug.BuildSetting) bool {
		return setting.Key == "vcs.revision"
	})
	if ok {
		commit = revision.Value
		version = utils.SafeTruncate(commit, 7)
	}
	t, ok := lo.Find(buildInfo.Settings, func(setting debug.BuildSetting) bool {
		return setting.Key == "vcs.time"
	})
	if ok {
		date = t.Value
	}
}
