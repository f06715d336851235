package core

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

var (
	themeNamePattern  = regexp.MustCompile(`(?m)^(\s*Theme Name:\s*)(.+)$`)
	pluginNamePattern = regexp.MustCompile(`(?m)^(\s*\*\s*Plugin Name:\s*)(.+)$`)
	pluginHeader      = regexp.MustCompile(`(?i)Plugin Name:`)
)

// renameTheme rewrites the Theme Name header of style.css. Branches other
// than main and master are appended in parentheses.
func renameTheme(dir, name, branch string) (bool, error) {
	if branch != "main" && branch != "master" && branch != "" {
		name += " (" + upperFirst(branch) + ")"
	}
	return replaceHeader(filepath.Join(dir, "style.css"), themeNamePattern, name)
}

// renamePlugin rewrites the Plugin Name header of the main plugin file.
func renamePlugin(dir, name, repoName string) (bool, error) {
	file, err := findMainPluginFile(dir, repoName)
	if err != nil || file == "" {
		return false, err
	}
	return replaceHeader(file, pluginNamePattern, name)
}

// findMainPluginFile returns <repoName>.php when it carries a plugin header,
// otherwise the first top-level PHP file that does.
func findMainPluginFile(dir, repoName string) (string, error) {
	if repoName != "" {
		expected := filepath.Join(dir, repoName+".php")
		if data, err := os.ReadFile(expected); err == nil && pluginHeader.Match(data) {
			return expected, nil
		}
	}

	files, err := filepath.Glob(filepath.Join(dir, "*.php"))
	if err != nil {
		return "", err
	}
	for _, file := range files {
		data, err := os.ReadFile(file)
		if err != nil {
			continue
		}
		if pluginHeader.Match(data) {
			return file, nil
		}
	}
	return "", nil
}

// replaceHeader replaces the value of the first header matched by pattern.
// A missing file is not an error.
func replaceHeader(file string, pattern *regexp.Regexp, value string) (bool, error) {
	data, err := os.ReadFile(file)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	content := string(data)
	loc := pattern.FindStringSubmatchIndex(content)
	if loc == nil {
		return false, nil
	}
	start, end := loc[4], loc[5]
	if strings.HasSuffix(content[start:end], "\r") {
		end--
	}
	if content[start:end] == value {
		return false, nil
	}

	updated := content[:start] + value + content[end:]
	info, err := os.Stat(file)
	if err != nil {
		return false, err
	}
	if err := os.WriteFile(file, []byte(updated), info.Mode().Perm()); err != nil {
		return false, err
	}
	return true, nil
}

func upperFirst(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + s[size:]
}
