package version_test

import (
	"strings"
	"testing"

	v "github.com/keithlinneman/combostatic/internal/version"
)

func TestVCSDirtyTriState(t *testing.T) {
	v.VCSDirty = nil
	info := v.Get()
	if info.VCSDirty != nil {
		t.Fatalf("VCSDirty = %v, want nil", info.VCSDirty)
	}

	trueVal := true
	v.VCSDirty = &trueVal
	info = v.Get()
	if info.VCSDirty == nil || *info.VCSDirty != true {
		t.Fatalf("VCSDirty = %v, want true", info.VCSDirty)
	}

	falseVal := false
	v.VCSDirty = &falseVal
	info = v.Get()
	if info.VCSDirty == nil || *info.VCSDirty != false {
		t.Fatalf("VCSDirty = %v, want false", info.VCSDirty)
	}
}

func TestGet_AppName(t *testing.T) {
	if got := v.Get().AppName; got != v.AppName {
		t.Fatalf("AppName = %q, want %q", got, v.AppName)
	}
}

func TestInfo_String(t *testing.T) {
	dirty := true
	info := v.Info{AppName: "combostatic", Version: "1.2.3", Commit: "abc", GoVersion: "go1.24", VCSDirty: &dirty}
	s := info.String()
	for _, want := range []string{"combostatic 1.2.3", "commit=abc", "go=go1.24", "dirty=true"} {
		if !strings.Contains(s, want) {
			t.Fatalf("String() = %q, missing %q", s, want)
		}
	}
}
