package idhash

import "testing"

func TestComputeClusterID(t *testing.T) {
	id := ComputeClusterID("Token", "Wallet", 1704067200000)
	if len(id) != 32 {
		t.Errorf("ComputeClusterID() length = %d, want 32", len(id))
	}
	if id != ComputeClusterID("Token", "Wallet", 1704067200000) {
		t.Error("ComputeClusterID() not deterministic")
	}
	if id == ComputeClusterID("Token", "Wallet", 1704067200001) {
		t.Error("Different anchor time should produce different id")
	}
}

func TestComputeTransactionID(t *testing.T) {
	a := ComputeTransactionID("W", "T", "buy", "1.5", "1000", 1)
	b := ComputeTransactionID("W", "T", "sell", "1.5", "1000", 1)
	if len(a) != 64 {
		t.Errorf("ComputeTransactionID() length = %d, want 64", len(a))
	}
	if a == b {
		t.Error("Different direction should produce different hash")
	}
}
