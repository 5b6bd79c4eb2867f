package molch

import (
	"testing"

	"github.com/opd-ai/molch/crypto"
)

// BenchmarkCreateUser measures user creation including prekey generation.
func BenchmarkCreateUser(b *testing.B) {
	library, err := New(NewOptions())
	if err != nil {
		b.Fatal(err)
	}
	defer library.Close()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := library.CreateUser(nil); err != nil {
			b.Fatal(err)
		}
	}
}

// BenchmarkEncryptMessage measures steady-state sends on one chain.
func BenchmarkEncryptMessage(b *testing.B) {
	library, conversationID := benchmarkConversation(b)
	defer library.Close()

	message := []byte("benchmark message payload")

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, _, err := library.EncryptMessage(conversationID, message); err != nil {
			b.Fatal(err)
		}
	}
}

// BenchmarkMessageRoundTrip measures one full encrypt plus decrypt.
func BenchmarkMessageRoundTrip(b *testing.B) {
	library, err := New(NewOptions())
	if err != nil {
		b.Fatal(err)
	}
	defer library.Close()

	alice, err := library.CreateUser(nil)
	if err != nil {
		b.Fatal(err)
	}
	bob, err := library.CreateUser(nil)
	if err != nil {
		b.Fatal(err)
	}

	started, err := library.StartSendConversation(alice.UserID, bob.UserID, bob.PrekeyList, []byte("start"))
	if err != nil {
		b.Fatal(err)
	}
	received, err := library.StartReceiveConversation(bob.UserID, alice.UserID, started.Packet)
	if err != nil {
		b.Fatal(err)
	}

	message := []byte("benchmark message payload")

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		outbound, _, err := library.EncryptMessage(started.ConversationID, message)
		if err != nil {
			b.Fatal(err)
		}
		if _, err := library.DecryptMessage(received.ConversationID, outbound); err != nil {
			b.Fatal(err)
		}
	}
}

// BenchmarkExportFull measures a full state export with two users.
func BenchmarkExportFull(b *testing.B) {
	library, _ := benchmarkConversation(b)
	defer library.Close()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := library.ExportFull(); err != nil {
			b.Fatal(err)
		}
	}
}

func benchmarkConversation(b *testing.B) (*Library, crypto.ConversationID) {
	b.Helper()

	library, err := New(NewOptions())
	if err != nil {
		b.Fatal(err)
	}

	alice, err := library.CreateUser(nil)
	if err != nil {
		b.Fatal(err)
	}
	bob, err := library.CreateUser(nil)
	if err != nil {
		b.Fatal(err)
	}

	started, err := library.StartSendConversation(alice.UserID, bob.UserID, bob.PrekeyList, []byte("start"))
	if err != nil {
		b.Fatal(err)
	}

	return library, started.ConversationID
}
