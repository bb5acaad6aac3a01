package route

import (
	"context"
	"errors"
	"testing"

	"github.com/Skelmis/zonis-go/zerr"
)

func echoHandler(ctx context.Context, args map[string]any) (any, error) {
	return args["value"], nil
}

func boomHandler(ctx context.Context, args map[string]any) (any, error) {
	return nil, errors.New("no")
}

func panicHandler(ctx context.Context, args map[string]any) (any, error) {
	panic("kaboom")
}

func TestRegisterAndDispatch(t *testing.T) {
	tbl := New(nil, nil)
	if err := tbl.Register("echo", echoHandler); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	result, err := tbl.Dispatch(context.Background(), "echo", map[string]any{"value": "hi"})
	if err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}
	if result != "hi" {
		t.Fatalf("expected hi, got %v", result)
	}
}

func TestRegisterDuplicate(t *testing.T) {
	tbl := New(nil, nil)
	if err := tbl.Register("echo", echoHandler); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	err := tbl.Register("echo", echoHandler)
	if !errors.Is(err, zerr.ErrDuplicateRoute) {
		t.Fatalf("expected ErrDuplicateRoute, got %v", err)
	}

	// table state unchanged: dispatch still works
	if _, ok := tbl.Lookup("echo"); !ok {
		t.Fatal("expected echo route to still be registered")
	}
}

func TestDispatchUnknownRoute(t *testing.T) {
	tbl := New(nil, nil)
	_, err := tbl.Dispatch(context.Background(), "nope", nil)
	if !errors.Is(err, zerr.ErrUnknownRoute) {
		t.Fatalf("expected ErrUnknownRoute, got %v", err)
	}
}

func TestDispatchHandlerError(t *testing.T) {
	tbl := New(nil, nil)
	if err := tbl.Register("boom", boomHandler); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	_, err := tbl.Dispatch(context.Background(), "boom", nil)
	if err == nil || err.Error() != "no" {
		t.Fatalf("expected handler error 'no', got %v", err)
	}
}

func TestDispatchHandlerPanicIsCaptured(t *testing.T) {
	tbl := New(nil, nil)
	if err := tbl.Register("panic", panicHandler); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	_, err := tbl.Dispatch(context.Background(), "panic", nil)
	if err == nil {
		t.Fatal("expected a non-nil error from a panicking handler")
	}
}
