package auth

import (
	"errors"
	"testing"
)

func TestVerify(t *testing.T) {
	v := TokenVerifier{Expected: "secret"}

	if err := v.Verify("secret"); err != nil {
		t.Errorf("exact token rejected: %v", err)
	}
	if err := v.Verify("secret2"); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("wrong token: err=%v, want ErrInvalidToken", err)
	}
	if err := v.Verify(""); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("empty token: err=%v, want ErrInvalidToken", err)
	}

	open := TokenVerifier{}
	if err := open.Verify("anything"); err != nil {
		t.Errorf("open room rejected token: %v", err)
	}
	if err := open.Verify(""); err != nil {
		t.Errorf("open room rejected empty token: %v", err)
	}
}

func TestAuthorize(t *testing.T) {
	v := TokenVerifier{Expected: "secret"}

	t.Run("raw subprotocol value", func(t *testing.T) {
		echo, err := v.Authorize("secret", "")
		if err != nil || echo != "secret" {
			t.Fatalf("echo=%q err=%v", echo, err)
		}
	})

	t.Run("prefixed subprotocol value", func(t *testing.T) {
		echo, err := v.Authorize("token.secret", "")
		if err != nil || echo != "token.secret" {
			t.Fatalf("echo=%q err=%v", echo, err)
		}
	})

	t.Run("matched item chosen among several offers", func(t *testing.T) {
		echo, err := v.Authorize("chat, token.secret, json", "")
		if err != nil || echo != "token.secret" {
			t.Fatalf("echo=%q err=%v", echo, err)
		}
	})

	t.Run("query fallback", func(t *testing.T) {
		echo, err := v.Authorize("", "secret")
		if err != nil || echo != "" {
			t.Fatalf("echo=%q err=%v", echo, err)
		}
		echo, err = v.Authorize("chat", "secret")
		if err != nil || echo != "chat" {
			t.Fatalf("echo=%q err=%v", echo, err)
		}
	})

	t.Run("mismatch rejected", func(t *testing.T) {
		if _, err := v.Authorize("token.secret2", "wrong"); !errors.Is(err, ErrInvalidToken) {
			t.Fatalf("err=%v, want ErrInvalidToken", err)
		}
		if _, err := v.Authorize("", ""); !errors.Is(err, ErrInvalidToken) {
			t.Fatalf("err=%v, want ErrInvalidToken", err)
		}
	})

	t.Run("open room passes and echoes first non-null offer", func(t *testing.T) {
		open := TokenVerifier{}
		echo, err := open.Authorize("null, chat", "")
		if err != nil || echo != "chat" {
			t.Fatalf("echo=%q err=%v", echo, err)
		}
		echo, err = open.Authorize("", "")
		if err != nil || echo != "" {
			t.Fatalf("echo=%q err=%v", echo, err)
		}
	})
}

func TestSplitProtocols(t *testing.T) {
	got := SplitProtocols(" a , ,b,")
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("got %v", got)
	}
	if got := SplitProtocols(""); len(got) != 0 {
		t.Fatalf("got %v, want empty", got)
	}
}
