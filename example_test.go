package molch_test

import (
	"fmt"
	"log"

	"github.com/opd-ai/molch"
)

// Example walks through the complete lifecycle: two users, a conversation
// bootstrapped from a prekey list, and replies in both directions.
func Example() {
	library, err := molch.New(molch.NewOptions())
	if err != nil {
		log.Fatal(err)
	}
	defer library.Close()

	alice, err := library.CreateUser([]byte("some collected keyboard noise"))
	if err != nil {
		log.Fatal(err)
	}
	bob, err := library.CreateUser(nil)
	if err != nil {
		log.Fatal(err)
	}

	// Alice starts the conversation from Bob's published prekey list.
	started, err := library.StartSendConversation(
		alice.UserID, bob.UserID, bob.PrekeyList, []byte("Hi Bob. Alice here!"))
	if err != nil {
		log.Fatal(err)
	}

	// Bob accepts the prekey packet.
	received, err := library.StartReceiveConversation(bob.UserID, alice.UserID, started.Packet)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Printf("bob received: %s\n", received.Message)

	// Bob replies on the established conversation.
	reply, _, err := library.EncryptMessage(received.ConversationID, []byte("Welcome Alice!"))
	if err != nil {
		log.Fatal(err)
	}
	decrypted, err := library.DecryptMessage(started.ConversationID, reply)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Printf("alice received: %s\n", decrypted.Message)

	// Output:
	// bob received: Hi Bob. Alice here!
	// alice received: Welcome Alice!
}
