package model

import (
	"context"
	"testing"
)

func TestRequestContext_Validate(t *testing.T) {
	tests := []struct {
		name    string
		rc      *RequestContext
		wantErr bool
	}{
		{
			name:    "valid context",
			rc:      &RequestContext{SubjectID: "user-1"},
			wantErr: false,
		},
		{
			name:    "missing SubjectID",
			rc:      &RequestContext{TenantID: "tenant-1"},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.rc.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestRequestContext_HasRole(t *testing.T) {
	rc := &RequestContext{Roles: []string{"admin", "editor"}}
	if !rc.HasRole("admin") {
		t.Error("HasRole(admin) = false, want true")
	}
	if rc.HasRole("viewer") {
		t.Error("HasRole(viewer) = true, want false")
	}
}

func TestRequestContext_Claim(t *testing.T) {
	rc := &RequestContext{}
	if rc.Claim("x") != nil {
		t.Error("Claim on nil map should return nil")
	}
	rc.Claims = map[string]any{"org": "acme"}
	if rc.Claim("org") != "acme" {
		t.Errorf("Claim(org) = %v, want acme", rc.Claim("org"))
	}
}

func TestWithRequestContext_roundTrip(t *testing.T) {
	rc := &RequestContext{SubjectID: "user-1", Token: "tok"}
	ctx := WithRequestContext(context.Background(), rc)
	got := RequestContextFrom(ctx)
	if got != rc {
		t.Fatalf("RequestContextFrom() = %v, want %v", got, rc)
	}
	if RequestContextFrom(context.Background()) != nil {
		t.Error("RequestContextFrom on empty context should be nil")
	}
}

func TestLocaleFrom(t *testing.T) {
	if got := LocaleFrom(context.Background(), "en"); got != "en" {
		t.Errorf("LocaleFrom() = %q, want en", got)
	}
	ctx := WithRequestContext(context.Background(), &RequestContext{Locale: "sv"})
	if got := LocaleFrom(ctx, "en"); got != "sv" {
		t.Errorf("LocaleFrom() = %q, want sv", got)
	}
}
