// ABOUTME: Interactive setup wizard for coven-joinlink
// ABOUTME: Prompts for account and bot settings and writes a TOML config

package main

import (
	"bufio"
	"bytes"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/fatih/color"

	"github.com/2389/coven-joinlink/internal/config"
)

// initAnswers are the values gathered by the wizard.
type initAnswers struct {
	Homeserver    string
	Username      string
	Password      string
	RecoveryKey   string
	Prefix        string
	EncryptionKey string
	Users         []string
	Admins        []string
}

func runInit(in io.Reader, configPath string) error {
	cyan := color.New(color.FgCyan)
	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	cyan.Print(banner)
	fmt.Println("    Interactive Setup")
	fmt.Println("    -----------------")
	fmt.Println()

	reader := bufio.NewReader(in)
	ask := func(prompt, def string) string {
		green.Print("    ▶ ")
		fmt.Print(prompt)
		answer, _ := reader.ReadString('\n')
		answer = strings.TrimSpace(answer)
		if answer == "" {
			return def
		}
		return answer
	}

	if _, err := os.Stat(configPath); err == nil {
		yellow.Printf("    Config already exists at %s\n", configPath)
		fmt.Print("    Overwrite? [y/N]: ")
		answer, _ := reader.ReadString('\n')
		if strings.ToLower(strings.TrimSpace(answer)) != "y" {
			fmt.Println("    Aborted.")
			return nil
		}
		fmt.Println()
	}

	generated, err := generateKey()
	if err != nil {
		return fmt.Errorf("generating encryption key: %w", err)
	}

	answers := initAnswers{
		Homeserver:    ask("Matrix homeserver URL [https://matrix.org]: ", "https://matrix.org"),
		Username:      ask("Matrix username: ", ""),
		Password:      ask("Matrix password: ", ""),
		RecoveryKey:   ask("Matrix recovery key (optional, for E2EE): ", ""),
		Prefix:        ask("Command prefix [join]: ", "join"),
		EncryptionKey: ask("Link encryption key [generated]: ", generated),
		Users:         splitList(ask("Allowed users, comma separated (empty = everyone): ", "")),
		Admins:        splitList(ask("Bot admins, comma separated: ", "")),
	}

	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	data, err := renderConfig(answers)
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	if err := os.WriteFile(configPath, data, 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	fmt.Println()
	green.Printf("    ✓ Config written to %s\n", configPath)
	fmt.Println()
	yellow.Println("    Keep the encryption key safe: changing it breaks every existing link.")
	fmt.Println()
	fmt.Println("    Next steps:")
	fmt.Println("    1. Run: coven-joinlink")
	fmt.Printf("    2. Invite the bot to a room and send: !%s help\n", answers.Prefix)
	fmt.Println()

	return nil
}

const configHeader = `# coven-joinlink configuration
# Generated by coven-joinlink init
# bot.users is a suffix match, e.g. ":example.org" allows a whole server. Empty allows everyone.

`

func renderConfig(a initAnswers) ([]byte, error) {
	cfg := config.Default()
	cfg.Matrix.Homeserver = a.Homeserver
	cfg.Matrix.Username = a.Username
	cfg.Matrix.Password = a.Password
	cfg.Matrix.RecoveryKey = a.RecoveryKey
	cfg.Bot.Prefix = a.Prefix
	cfg.Bot.EncryptionKey = a.EncryptionKey
	cfg.Bot.Users = a.Users
	cfg.Bot.Admins = a.Admins

	var buf bytes.Buffer
	buf.WriteString(configHeader)
	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func generateKey() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
