package auth

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
)

// LoginPasteToken prompts for a session token pasted from the web app and
// wraps it in a credential. The reader is injected so tests can feed input.
func LoginPasteToken(userID string, r io.Reader) (*AuthCredential, error) {
	fmt.Println("Paste your session token from the anthra web app:")
	fmt.Print("> ")

	scanner := bufio.NewScanner(r)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return nil, fmt.Errorf("reading token: %w", err)
		}
		return nil, errors.New("no input received")
	}

	token := strings.TrimSpace(scanner.Text())
	if token == "" {
		return nil, errors.New("token cannot be empty")
	}

	return &AuthCredential{
		AccessToken: token,
		UserID:      userID,
		AuthMethod:  "token",
		CreatedAt:   time.Now().UTC(),
	}, nil
}
