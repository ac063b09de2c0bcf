package checkout

import (
	"errors"
	"testing"
)

func TestNormalizePhone(t *testing.T) {
	tests := []struct {
		raw     string
		want    string
		wantErr bool
	}{
		{raw: "0712345678", want: "254712345678"},
		{raw: "712345678", want: "254712345678"},
		{raw: "+254 712 345 678", want: "254712345678"},
		{raw: "254-110-123-456", want: "254110123456"},
		{raw: "123", wantErr: true},
		{raw: "", wantErr: true},
		{raw: "07123abc78", wantErr: true},
		{raw: "2547123456789012", wantErr: true},
		{raw: "+1 555 123 4567", wantErr: true},
		{raw: "447911123456", wantErr: true},
		{raw: "254123456", want: "254254123456"},
	}

	for _, tc := range tests {
		t.Run(tc.raw, func(t *testing.T) {
			got, err := NormalizePhone(tc.raw, "")
			if tc.wantErr {
				if !errors.Is(err, ErrInvalidPhoneNumber) {
					t.Fatalf("expected ErrInvalidPhoneNumber, got %q, %v", got, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.want {
				t.Fatalf("expected %s, got %s", tc.want, got)
			}
		})
	}
}
