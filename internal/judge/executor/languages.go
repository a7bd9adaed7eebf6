package executor

// languageSpec describes how one language is compiled and run inside the
// execution service.
type languageSpec struct {
	SourceFile  string
	CompileArgs []string
	ArtifactKey string
	RunArgs     []string
}

var languageSpecs = map[string]languageSpec{
	"cpp": {
		SourceFile:  "main.cpp",
		CompileArgs: []string{"/usr/bin/g++", "-O2", "-std=c++17", "main.cpp", "-o", "main"},
		ArtifactKey: "main",
		RunArgs:     []string{"./main"},
	},
	"c": {
		SourceFile:  "main.c",
		CompileArgs: []string{"/usr/bin/gcc", "-O2", "-std=c11", "main.c", "-o", "main"},
		ArtifactKey: "main",
		RunArgs:     []string{"./main"},
	},
	"go": {
		SourceFile:  "main.go",
		CompileArgs: []string{"/usr/local/go/bin/go", "build", "-o", "main", "main.go"},
		ArtifactKey: "main",
		RunArgs:     []string{"./main"},
	},
	"java": {
		SourceFile:  "Main.java",
		CompileArgs: []string{"/usr/bin/javac", "Main.java"},
		ArtifactKey: "Main.class",
		RunArgs:     []string{"/usr/bin/java", "Main"},
	},
	"python": {
		SourceFile: "main.py",
		RunArgs:    []string{"/usr/bin/python3", "main.py"},
	},
	"javascript": {
		SourceFile: "main.js",
		RunArgs:    []string{"/usr/bin/node", "main.js"},
	},
}

// IsSupported reports whether a language can be judged.
func IsSupported(language string) bool {
	_, ok := languageSpecs[language]
	return ok
}

// SupportedLanguages lists judgeable language identifiers.
func SupportedLanguages() []string {
	out := make([]string, 0, len(languageSpecs))
	for lang := range languageSpecs {
		out = append(out, lang)
	}
	return out
}
