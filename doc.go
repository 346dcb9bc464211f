// Package e2eedm provides the client side of end-to-end encrypted direct
// messages for Egregoros.
//
// The server never sees plaintext or unwrapped key material. Each account
// has one ECDH P-256 identity key, stored on the server only in wrapped form
// under a passkey PRF output or a 24-word recovery phrase. A Client unlocks
// the identity on demand, resolves the counterparty's published key and
// seals each message with a fresh AES-256-GCM key bound to both actors and
// their key ids.
//
// Basic usage:
//
//	client, err := e2eedm.New(
//	    e2eedm.WithBaseURL("https://egregoros.example"),
//	    e2eedm.WithToken(token),
//	    e2eedm.WithActorID("https://egregoros.example/users/alice"),
//	    e2eedm.WithMnemonicPrompt(askForRecoveryPhrase),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	env, err := client.Encrypt(ctx, "https://remote.example/users/bob", "hi bob")
//	if err != nil {
//	    log.Fatal(e2eedm.UserMessage(err))
//	}
//
//	text, err := client.Decrypt(ctx, env)
package e2eedm
