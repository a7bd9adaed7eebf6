package executor

import (
	"sort"
	"testing"
)

func TestSupportedLanguages(t *testing.T) {
	t.Parallel()

	for _, lang := range []string{"python", "javascript", "java", "cpp", "c", "go"} {
		if !IsSupported(lang) {
			t.Fatalf("language %q should be supported", lang)
		}
	}
	for _, lang := range []string{"", "ruby", "Python", "node"} {
		if IsSupported(lang) {
			t.Fatalf("language %q should not be supported", lang)
		}
	}

	listed := SupportedLanguages()
	sort.Strings(listed)
	want := []string{"c", "cpp", "go", "java", "javascript", "python"}
	if len(listed) != len(want) {
		t.Fatalf("expected %d languages, got %v", len(want), listed)
	}
	for i, lang := range want {
		if listed[i] != lang {
			t.Fatalf("expected %v, got %v", want, listed)
		}
	}
}

func TestLanguageSpecsInterpretedHaveNoCompileStep(t *testing.T) {
	t.Parallel()

	for _, lang := range []string{"python", "javascript"} {
		spec := languageSpecs[lang]
		if len(spec.CompileArgs) != 0 || spec.ArtifactKey != "" {
			t.Fatalf("%s should run from source, got %+v", lang, spec)
		}
		if len(spec.RunArgs) == 0 || spec.SourceFile == "" {
			t.Fatalf("%s spec incomplete: %+v", lang, spec)
		}
	}
}
