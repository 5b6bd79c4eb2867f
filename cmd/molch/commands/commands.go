package commands

import (
	"encoding/hex"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/opd-ai/molch/crypto"
)

func initCmd() *cobra.Command {
	var seed string

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create a new user",
		RunE: func(cmd *cobra.Command, args []string) error {
			var lowEntropySeed []byte
			if seed != "" {
				lowEntropySeed = []byte(seed)
			}

			result, err := library.CreateUser(lowEntropySeed)
			if err != nil {
				return err
			}

			fmt.Printf("user:       %s\n", hex.EncodeToString(result.UserID[:]))
			fmt.Printf("prekeys:    %d bytes (signed list)\n", len(result.PrekeyList))
			fmt.Printf("backup key: %s\n", hex.EncodeToString(result.BackupKey[:]))

			return saveState()
		},
	}

	cmd.Flags().StringVar(&seed, "seed", "", "low-entropy spice mixed into key generation")
	return cmd
}

func usersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "users",
		Short: "List users",
		RunE: func(cmd *cobra.Command, args []string) error {
			users := library.ListUsers()
			if len(users) == 0 {
				fmt.Println("no users")
				return nil
			}
			for _, key := range users {
				fmt.Println(hex.EncodeToString(key[:]))
			}
			return nil
		},
	}
}

func conversationsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "conversations <user>",
		Short: "List a user's conversations",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := resolveUser(args[0])
			if err != nil {
				return err
			}

			conversations, err := library.ListConversations(userID)
			if err != nil {
				return err
			}
			if len(conversations) == 0 {
				fmt.Println("no conversations")
				return nil
			}
			for _, id := range conversations {
				fmt.Println(hex.EncodeToString(id[:]))
			}
			return nil
		},
	}
}

func demoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "demo",
		Short: "Run a local two-user message exchange",
		Long: "Creates two users, starts a conversation through a prekey\n" +
			"message and exchanges replies across a ratchet crossover.",
		RunE: func(cmd *cobra.Command, args []string) error {
			alice, err := library.CreateUser(nil)
			if err != nil {
				return err
			}
			bob, err := library.CreateUser(nil)
			if err != nil {
				return err
			}
			fmt.Printf("alice: %s\n", shortKey(alice.UserID))
			fmt.Printf("bob:   %s\n", shortKey(bob.UserID))

			started, err := library.StartSendConversation(
				alice.UserID, bob.UserID, bob.PrekeyList, []byte("Hi Bob. Alice here!"))
			if err != nil {
				return err
			}
			fmt.Printf("alice -> bob: prekey packet, %d bytes\n", len(started.Packet))

			received, err := library.StartReceiveConversation(bob.UserID, alice.UserID, started.Packet)
			if err != nil {
				return err
			}
			fmt.Printf("bob decrypted: %q\n", received.Message)

			reply, _, err := library.EncryptMessage(received.ConversationID, []byte("Welcome Alice!"))
			if err != nil {
				return err
			}
			decrypted, err := library.DecryptMessage(started.ConversationID, reply)
			if err != nil {
				return err
			}
			fmt.Printf("alice decrypted: %q (N=%d, PN=%d)\n",
				decrypted.Message, decrypted.MessageNumber, decrypted.PreviousMessageNumber)

			return saveState()
		},
	}
}

func exportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "export <file>",
		Short: "Write an encrypted full backup",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			envelope, err := library.ExportFull()
			if err != nil {
				return err
			}
			return os.WriteFile(args[0], envelope, 0o600)
		},
	}
}

func importCmd() *cobra.Command {
	var keyHex string

	cmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Replace state with an encrypted backup",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			envelope, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}

			keyBytes, err := hex.DecodeString(keyHex)
			if err != nil || len(keyBytes) != crypto.BackupKeySize {
				return fmt.Errorf("--key must be %d hex-encoded bytes", crypto.BackupKeySize)
			}
			var key crypto.BackupKey
			copy(key[:], keyBytes)
			crypto.ZeroBytes(keyBytes)

			if _, err := library.ImportFull(envelope, key); err != nil {
				return err
			}
			fmt.Printf("imported %d user(s)\n", library.UserCount())

			return saveState()
		},
	}

	cmd.Flags().StringVar(&keyHex, "key", "", "backup key that sealed the file (hex)")
	_ = cmd.MarkFlagRequired("key")
	return cmd
}
