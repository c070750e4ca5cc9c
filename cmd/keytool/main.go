// Command keytool manages operator keys and signs API requests.
//
//	keytool new [-out key.json -password pw]
//	keytool encrypt -key HEX -out key.json -password pw
//	keytool address (-key HEX | -file key.json -password pw)
//	keytool sign (-key HEX | -file key.json -password pw) -method POST -path /api/markets [-body JSON]
//
// The password may also come from ASSERTMARKET_WALLET_KEY_PASSWORD.
package main

import (
	"encoding/hex"
	"flag"
	"fmt"
	"os"
	"sort"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/alanyoungcy/assertmarket/internal/crypto"
)

const passwordEnv = "ASSERTMARKET_WALLET_KEY_PASSWORD"

func main() {
	if len(os.Args) < 2 {
		usage()
	}
	var err error
	switch os.Args[1] {
	case "new":
		err = cmdNew(os.Args[2:])
	case "encrypt":
		err = cmdEncrypt(os.Args[2:])
	case "address":
		err = cmdAddress(os.Args[2:])
	case "sign":
		err = cmdSign(os.Args[2:])
	default:
		usage()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "keytool: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: keytool new|encrypt|address|sign [flags]")
	os.Exit(2)
}

// keyFlags registers the flags that locate a key.
type keyFlags struct {
	key, file, password *string
}

func addKeyFlags(fs *flag.FlagSet) keyFlags {
	return keyFlags{
		key:      fs.String("key", "", "hex private key"),
		file:     fs.String("file", "", "encrypted key file"),
		password: fs.String("password", os.Getenv(passwordEnv), "key file password"),
	}
}

func (k keyFlags) load() (*crypto.Signer, error) {
	hexKey, err := crypto.LoadKey(crypto.KeyConfig{
		RawPrivateKey:    *k.key,
		EncryptedKeyPath: *k.file,
		KeyPassword:      *k.password,
	})
	if err != nil {
		return nil, err
	}
	return crypto.NewSigner(hexKey)
}

func cmdNew(args []string) error {
	fs := flag.NewFlagSet("new", flag.ExitOnError)
	out := fs.String("out", "", "write the key encrypted to this file instead of printing it")
	password := fs.String("password", os.Getenv(passwordEnv), "key file password")
	_ = fs.Parse(args)

	pk, err := ethcrypto.GenerateKey()
	if err != nil {
		return err
	}
	hexKey := hex.EncodeToString(ethcrypto.FromECDSA(pk))
	fmt.Println("address:", ethcrypto.PubkeyToAddress(pk.PublicKey).Hex())
	if *out == "" {
		fmt.Println("private key:", hexKey)
		return nil
	}
	return writeEncrypted(hexKey, *out, *password)
}

func cmdEncrypt(args []string) error {
	fs := flag.NewFlagSet("encrypt", flag.ExitOnError)
	key := fs.String("key", "", "hex private key")
	out := fs.String("out", "", "output file")
	password := fs.String("password", os.Getenv(passwordEnv), "key file password")
	_ = fs.Parse(args)

	if *key == "" || *out == "" {
		return fmt.Errorf("encrypt: -key and -out are required")
	}
	return writeEncrypted(*key, *out, *password)
}

func writeEncrypted(hexKey, path, password string) error {
	data, err := crypto.EncryptKey(hexKey, password)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return err
	}
	fmt.Println("wrote", path)
	return nil
}

func cmdAddress(args []string) error {
	fs := flag.NewFlagSet("address", flag.ExitOnError)
	kf := addKeyFlags(fs)
	_ = fs.Parse(args)

	signer, err := kf.load()
	if err != nil {
		return err
	}
	fmt.Println(signer.Address().Hex())
	return nil
}

// cmdSign prints the caller headers for one request, as curl -H arguments.
func cmdSign(args []string) error {
	fs := flag.NewFlagSet("sign", flag.ExitOnError)
	kf := addKeyFlags(fs)
	method := fs.String("method", "GET", "HTTP method")
	path := fs.String("path", "", "request path including any query string")
	body := fs.String("body", "", "request body")
	_ = fs.Parse(args)

	if *path == "" {
		return fmt.Errorf("sign: -path is required")
	}
	signer, err := kf.load()
	if err != nil {
		return err
	}
	headers, err := signer.RequestHeaders(*method, *path, time.Now().Unix(), []byte(*body))
	if err != nil {
		return err
	}
	names := make([]string, 0, len(headers))
	for name := range headers {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Printf("-H '%s: %s' ", name, headers[name])
	}
	fmt.Println()
	return nil
}
