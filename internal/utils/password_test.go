package utils

import "testing"

func TestPasswordHashAndVerify(t *testing.T) {
	hash, err := HashPassword("correct horse", 4)
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	if !VerifyPassword(hash, "correct horse") {
		t.Error("correct password rejected")
	}
	if VerifyPassword(hash, "battery staple") {
		t.Error("wrong password accepted")
	}
	if VerifyPassword("not-a-hash", "correct horse") {
		t.Error("malformed hash accepted")
	}
}
