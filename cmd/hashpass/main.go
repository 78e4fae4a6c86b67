package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"trade-engine/internal/auth"

	"github.com/google/uuid"
)

func main() {
	fmt.Println("========================================")
	fmt.Println(" Operator Credentials Tool")
	fmt.Println("========================================")
	fmt.Println()

	reader := bufio.NewReader(os.Stdin)

	for {
		fmt.Println("\nOptions:")
		fmt.Println("  1. Hash operator password (AUTH_PASSWORD_HASH)")
		fmt.Println("  2. Verify a password against a hash")
		fmt.Println("  3. Generate webhook token (AUTH_WEBHOOK_TOKEN)")
		fmt.Println("  4. Exit")
		fmt.Print("\nSelect option: ")

		input, _ := reader.ReadString('\n')
		input = strings.TrimSpace(input)

		switch input {
		case "1":
			hashPassword(reader)
		case "2":
			verifyPassword(reader)
		case "3":
			generateWebhookToken()
		case "4":
			fmt.Println("Goodbye!")
			os.Exit(0)
		default:
			fmt.Println("Invalid option")
		}
	}
}

func hashPassword(reader *bufio.Reader) {
	fmt.Println("\n--- Hash Password ---")
	fmt.Printf("Password (%d-%d characters): ", auth.MinPasswordLength, auth.MaxPasswordLength)
	password, _ := reader.ReadString('\n')
	password = strings.TrimRight(password, "\r\n")

	hash, err := auth.HashPassword(password, auth.DefaultBcryptCost)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}

	fmt.Println("\nAdd this to your .env:")
	fmt.Printf("AUTH_PASSWORD_HASH='%s'\n", hash)
}

func verifyPassword(reader *bufio.Reader) {
	fmt.Println("\n--- Verify Password ---")
	fmt.Print("Hash: ")
	hash, _ := reader.ReadString('\n')
	hash = strings.TrimSpace(hash)

	fmt.Print("Password: ")
	password, _ := reader.ReadString('\n')
	password = strings.TrimRight(password, "\r\n")

	if auth.VerifyPassword(password, hash) {
		fmt.Println("✓ Password matches")
	} else {
		fmt.Println("✗ Password does not match")
	}
}

func generateWebhookToken() {
	token := strings.ReplaceAll(uuid.NewString()+uuid.NewString(), "-", "")
	fmt.Println("\nAdd this to your .env and to the signal provider's X-Webhook-Token header:")
	fmt.Printf("AUTH_WEBHOOK_TOKEN=%s\n", token)
}
