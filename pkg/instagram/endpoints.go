package instagram

import (
	"fmt"
	"strings"
)

const (
	// BaseURL is the base URL for Instagram
	BaseURL = "https://www.instagram.com"

	// LoginURL is the web login page
	LoginURL = BaseURL + "/accounts/login/"

	// postPathPrefix marks permalink paths on a profile grid
	postPathPrefix = "/p/"
)

// GetPostPath returns the permalink path of a post
func GetPostPath(shortcode string) string {
	if shortcode == "" {
		return ""
	}
	return postPathPrefix + shortcode + "/"
}

// GetPostURL constructs the URL for a specific post
func GetPostURL(shortcode string) string {
	if shortcode == "" {
		return ""
	}
	return BaseURL + GetPostPath(shortcode)
}

// GetPostJSONURL returns the JSON detail URL for a permalink path
func GetPostJSONURL(base, postPath string) string {
	return fmt.Sprintf("%s%s?__a=1", base, postPath)
}

// GetUserProfileURL constructs the public profile URL for a user
func GetUserProfileURL(username string) string {
	if username == "" {
		return ""
	}
	return fmt.Sprintf("%s/%s/", BaseURL, username)
}

// ShortcodeFromPath extracts the shortcode from "/p/<shortcode>/" or a full
// post URL. It returns "" when path is not a post permalink.
func ShortcodeFromPath(path string) string {
	i := strings.Index(path, postPathPrefix)
	if i < 0 {
		return ""
	}
	rest := path[i+len(postPathPrefix):]
	if j := strings.IndexAny(rest, "/?#"); j >= 0 {
		rest = rest[:j]
	}
	return rest
}

// IsValidUsername checks if a username is valid according to Instagram rules
func IsValidUsername(username string) bool {
	if username == "" || len(username) > 30 {
		return false
	}

	// Instagram usernames can only contain letters, numbers, periods, and underscores
	for _, char := range username {
		if !((char >= 'a' && char <= 'z') ||
			(char >= 'A' && char <= 'Z') ||
			(char >= '0' && char <= '9') ||
			char == '.' || char == '_') {
			return false
		}
	}

	return true
}

// SanitizeUsername strips a leading @ and trailing slashes or spaces
func SanitizeUsername(username string) string {
	username = strings.TrimPrefix(username, "@")
	return strings.TrimRight(username, "/ ")
}
