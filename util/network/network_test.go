package network

import (
	"reflect"
	"testing"
)

func TestNormalizeAddresses(t *testing.T) {
	addresses := []string{"127.0.0.1", "127.0.0.1:16611", "node1:17000", "::1"}
	normalized, err := NormalizeAddresses(addresses, DefaultPort)
	if err != nil {
		t.Fatalf("NormalizeAddresses: %+v", err)
	}

	expected := []string{"127.0.0.1:16611", "node1:17000", "[::1]:16611"}
	if !reflect.DeepEqual(normalized, expected) {
		t.Fatalf("expected %v, got %v", expected, normalized)
	}
	if addresses[0] != "127.0.0.1" {
		t.Fatalf("NormalizeAddresses modified its input")
	}
}

func TestNormalizeAddressRejectsGarbage(t *testing.T) {
	_, err := NormalizeAddress("[::1", DefaultPort)
	if err == nil {
		t.Fatalf("NormalizeAddress accepted a malformed address")
	}
}
