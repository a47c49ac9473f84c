package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"
	"testing"
)

func TestCodeOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorCode
	}{
		{"validation", NewValidation("page", "bad"), CodeValidation},
		{"unknown field", NewUnknownField("select", "dealSize"), CodeValidation},
		{"auth", NewAuthFailed("missing token"), CodeAuth},
		{"forbidden", NewAccessDenied("buyerName", "ciqCompany"), CodeForbidden},
		{"rate limit", NewRateLimited(), CodeRateLimit},
		{"not found", NewNotFound("transactionId", "transaction", "999"), CodeNotFound},
		{"execution", NewExecution("sqlite", fmt.Errorf("boom")), CodeEngine},
		{"timeout", NewExecution("sqlite", context.DeadlineExceeded), CodeTimeout},
		{"gateway", NewGatewayUnavailable("http://localhost:8080", "refused"), CodeEngine},
		{"wrapped", fmt.Errorf("outer: %w", NewOutOfRange("limit", 0, 1, 1000)), CodeValidation},
		{"foreign", stderrors.New("plain"), CodeInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CodeOf(tt.err); got != tt.want {
				t.Errorf("CodeOf() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestIsCompileError(t *testing.T) {
	if !IsCompileError(NewTypeMismatch("year", "year", "integer", "not a number")) {
		t.Error("type mismatch is a compile error")
	}
	if IsCompileError(NewExecution("sqlite", stderrors.New("x"))) {
		t.Error("execution failure is not a compile error")
	}
	if IsCompileError(NewAccessDenied("", "ciqCompany")) {
		t.Error("access denial is not a compile error")
	}
}

func TestKeyAndWithKey(t *testing.T) {
	err := NewMalformedValue("", "(1,2", "unbalanced parentheses")
	if Key(err) != "" {
		t.Fatalf("unexpected key %q", Key(err))
	}
	WithKey(err, "transactionId")
	if Key(err) != "transactionId" {
		t.Errorf("WithKey did not attach key, got %q", Key(err))
	}
	WithKey(err, "other")
	if Key(err) != "transactionId" {
		t.Error("WithKey must not overwrite an existing key")
	}
	if Key(stderrors.New("plain")) != "" {
		t.Error("foreign errors carry no key")
	}
}

func TestErrorMessageNamesKey(t *testing.T) {
	msg := NewUnknownField("buyerIdd", "buyerIdd").Error()
	for _, want := range []string{`parameter "buyerIdd"`, "Reason:", "Suggestion:"} {
		if !strings.Contains(msg, want) {
			t.Errorf("message %q lacks %q", msg, want)
		}
	}
}

func TestExecutionErrorHidesCause(t *testing.T) {
	cause := stderrors.New("near \"SELEC\": syntax error in SELECT secret FROM t WHERE x = 'v'")
	err := NewExecution("postgres", cause)
	if strings.Contains(err.Error(), "secret") {
		t.Errorf("execution error leaks its cause: %s", err.Error())
	}
	if !stderrors.Is(err, cause) {
		t.Error("cause must stay reachable through Unwrap")
	}
}
