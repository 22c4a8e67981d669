// Copyright (c) 2015-2026 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package prompt implements the interactive terminal prompts of the keysafe
// command.  A Terminal satisfies both unlock.Prompter and
// credstore.BiometricPrompter.
package prompt

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/multiwallet/keysafe/credstore"
	"github.com/multiwallet/keysafe/device"
	"github.com/multiwallet/keysafe/errors"
	"github.com/multiwallet/keysafe/internal/zero"
	"github.com/multiwallet/keysafe/unlock"
	"github.com/multiwallet/keysafe/walletseed"
	"golang.org/x/term"
)

// Terminal reads responses from an input stream and writes prompts to an
// output stream.  Prompts are serialized.
type Terminal struct {
	mu  sync.Mutex
	in  *bufio.Reader
	out io.Writer
	fd  int // -1 unless in is a terminal

	pending chan readResult
}

var (
	_ unlock.Prompter             = (*Terminal)(nil)
	_ credstore.BiometricPrompter = (*Terminal)(nil)
)

// Stdio returns a Terminal on the process standard input and output.
// Secrets are read without echo when standard input is a terminal.
func Stdio() *Terminal {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		fd = -1
	}
	return &Terminal{in: bufio.NewReader(os.Stdin), out: os.Stdout, fd: fd}
}

// New returns a Terminal reading from r and writing to w.  Secrets are echoed.
func New(r io.Reader, w io.Writer) *Terminal {
	return &Terminal{in: bufio.NewReader(r), out: w, fd: -1}
}

type readResult struct {
	b   []byte
	err error
}

// read reads a line, or a secret without echo, until ctx is done.  A read
// abandoned by cancellation stays pending and its result is discarded by the
// next read, so only one goroutine ever reads the input.  Requires mutex to be
// locked.
func (t *Terminal) read(ctx context.Context, secret bool) ([]byte, error) {
	if t.pending != nil {
		select {
		case r := <-t.pending:
			zero.Bytes(r.b)
			t.pending = nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	c := make(chan readResult, 1)
	go func() {
		var b []byte
		var err error
		if secret && t.fd >= 0 {
			b, err = term.ReadPassword(t.fd)
			fmt.Fprint(t.out, "\n")
		} else {
			b, err = t.in.ReadBytes('\n')
			if err == io.EOF && len(b) > 0 {
				err = nil
			}
		}
		c <- readResult{b, err}
	}()
	select {
	case r := <-c:
		if r.err != nil {
			zero.Bytes(r.b)
			return nil, r.err
		}
		b := append([]byte(nil), bytes.TrimSpace(r.b)...)
		zero.Bytes(r.b)
		return b, nil
	case <-ctx.Done():
		t.pending = c
		return nil, ctx.Err()
	}
}

func (t *Terminal) readLine(ctx context.Context) (string, error) {
	b, err := t.read(ctx, false)
	return string(b), err
}

// promptList prompts the user with the given prefix, list of valid responses,
// and default list entry to use.  The function will repeat the prompt to the
// user until they enter a valid response.
func (t *Terminal) promptList(ctx context.Context, prefix string, validResponses []string, defaultEntry string) (string, error) {
	// Setup the prompt according to the parameters.
	validStrings := strings.Join(validResponses, "/")
	var prompt string
	if defaultEntry != "" {
		prompt = fmt.Sprintf("%s (%s) [%s]: ", prefix, validStrings,
			defaultEntry)
	} else {
		prompt = fmt.Sprintf("%s (%s): ", prefix, validStrings)
	}

	// Prompt the user until one of the valid responses is given.
	for {
		fmt.Fprint(t.out, prompt)
		reply, err := t.readLine(ctx)
		if err != nil {
			return "", err
		}
		reply = strings.ToLower(reply)
		if reply == "" {
			reply = defaultEntry
		}

		for _, validResponse := range validResponses {
			if reply == validResponse {
				return reply, nil
			}
		}
	}
}

// Confirm prompts the user for a boolean (yes/no) with the given prefix.  The
// function will repeat the prompt to the user until they enter a valid
// response.
func (t *Terminal) Confirm(ctx context.Context, prefix string, defaultYes bool) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.confirm(ctx, prefix, defaultYes)
}

func (t *Terminal) confirm(ctx context.Context, prefix string, defaultYes bool) (bool, error) {
	def := "no"
	if defaultYes {
		def = "yes"
	}
	valid := []string{"n", "no", "y", "yes"}
	response, err := t.promptList(ctx, prefix, valid, def)
	if err != nil {
		return false, err
	}
	return response == "yes" || response == "y", nil
}

// PassPrompt prompts the user for a password with the given prefix.  The
// function will ask the user to confirm the password and will repeat the
// prompts until they enter a matching response.
func (t *Terminal) PassPrompt(ctx context.Context, prefix string, confirm bool) ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.passPrompt(ctx, prefix, confirm)
}

func (t *Terminal) passPrompt(ctx context.Context, prefix string, confirm bool) ([]byte, error) {
	// Prompt the user until they enter a password.
	prompt := fmt.Sprintf("%s: ", prefix)
	for {
		fmt.Fprint(t.out, prompt)
		pass, err := t.read(ctx, true)
		if err != nil {
			return nil, err
		}
		if len(pass) == 0 {
			continue
		}

		if !confirm {
			return pass, nil
		}

		fmt.Fprint(t.out, "Confirm password: ")
		again, err := t.read(ctx, true)
		if err != nil {
			zero.Bytes(pass)
			return nil, err
		}
		match := bytes.Equal(pass, again)
		zero.Bytes(again)
		if !match {
			zero.Bytes(pass)
			fmt.Fprintln(t.out, "The entered passwords do not match")
			continue
		}

		return pass, nil
	}
}

// PromptPassword implements unlock.Prompter.  Read failures and cancellation
// count as dismissal.
func (t *Terminal) PromptPassword(ctx context.Context) fn.Option[[]byte] {
	pass, err := t.PassPrompt(ctx, "Enter wallet password", false)
	if err != nil {
		return fn.None[[]byte]()
	}
	return fn.Some(pass)
}

// PromptDeviceSelection implements unlock.Prompter.  An empty reply dismisses
// the prompt.
func (t *Terminal) PromptDeviceSelection(ctx context.Context, devices []*device.Device) fn.Option[*device.Device] {
	t.mu.Lock()
	defer t.mu.Unlock()

	fmt.Fprintln(t.out, "Wallets:")
	for i, d := range devices {
		fmt.Fprintf(t.out, "  %d) %s %s\n", i+1, d.RootAddress.Hex(), d.Alias)
	}
	for {
		fmt.Fprintf(t.out, "Select a wallet (1-%d, empty to cancel): ", len(devices))
		reply, err := t.readLine(ctx)
		if err != nil || reply == "" {
			return fn.None[*device.Device]()
		}
		n, err := strconv.Atoi(reply)
		if err != nil || n < 1 || n > len(devices) {
			fmt.Fprintf(t.out, "Invalid selection %q\n", reply)
			continue
		}
		return fn.Some(devices[n-1])
	}
}

// PromptBiometric implements credstore.BiometricPrompter by asking the user to
// approve the release of a stored key.  Declining errors with code Canceled.
func (t *Terminal) PromptBiometric(ctx context.Context, reason string) error {
	const op errors.Op = "prompt.PromptBiometric"
	t.mu.Lock()
	defer t.mu.Unlock()
	ok, err := t.confirm(ctx, reason+"?", true)
	switch {
	case ctx.Err() != nil:
		return errors.E(op, errors.Canceled, ctx.Err())
	case err != nil:
		return errors.E(op, errors.IO, err)
	case !ok:
		return errors.E(op, errors.Canceled, "declined")
	}
	return nil
}

// ImportMnemonic prompts for an existing mnemonic, which may span several
// lines and ends with a blank line.  The prompt repeats until a valid
// mnemonic is entered.
func (t *Terminal) ImportMnemonic(ctx context.Context) ([]string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for {
		fmt.Fprint(t.out, "Enter existing mnemonic "+
			"(follow the words with an additional blank line): ")

		var input strings.Builder
		for {
			line, err := t.readLine(ctx)
			if err != nil && (input.Len() == 0 || err != io.EOF) {
				return nil, err
			}
			if line == "" || err != nil {
				break
			}
			input.WriteString(line)
			input.WriteByte(' ')
		}
		words, err := walletseed.DecodeUserInput(input.String())
		if err != nil {
			fmt.Fprintf(t.out, "Input error: %v\n", err)
			continue
		}
		return words, nil
	}
}

// ShowMnemonic displays a newly generated mnemonic and waits until the user
// confirms they have stored it.
func (t *Terminal) ShowMnemonic(ctx context.Context, words []string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	fmt.Fprintln(t.out, "Your wallet mnemonic is:")
	for i, w := range words {
		fmt.Fprintf(t.out, "%v ", w)
		if (i+1)%6 == 0 {
			fmt.Fprint(t.out, "\n")
		}
	}
	fmt.Fprintln(t.out, "\nIMPORTANT: Keep the mnemonic in a safe place as you\n"+
		"will NOT be able to restore your wallet without it.")
	fmt.Fprintln(t.out, "Please keep in mind that anyone who has access\n"+
		"to the mnemonic can also restore your wallet thereby\n"+
		"giving them access to all your funds, so it is\n"+
		"imperative that you keep it in a secure location.")

	for {
		fmt.Fprint(t.out, `Once you have stored the mnemonic in a safe `+
			`and secure location, enter "OK" to continue: `)
		reply, err := t.readLine(ctx)
		if err != nil {
			return err
		}
		reply = strings.Trim(reply, `"`)
		if strings.EqualFold("OK", reply) {
			return nil
		}
	}
}
