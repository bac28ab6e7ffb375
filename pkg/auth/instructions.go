package auth

import (
	"fmt"
	"io"
	"strings"
)

var platformSites = map[string]string{
	"instagram": "https://www.instagram.com",
	"twitter":   "https://twitter.com",
}

// ShowCookieExtractionGuide writes step-by-step instructions for copying the
// session cookies of platform from a browser
func ShowCookieExtractionGuide(w io.Writer, platform string) {
	site := platformSites[platform]
	required := RequiredCookies[platform]

	fmt.Fprintln(w, strings.Repeat("=", 80))
	fmt.Fprintf(w, "%s COOKIE EXTRACTION GUIDE\n", strings.ToUpper(platform))
	fmt.Fprintln(w, strings.Repeat("=", 80))
	fmt.Fprintln(w)

	fmt.Fprintln(w, "STEP 1: Open the site in your browser and log in")
	fmt.Fprintf(w, "   - Go to %s\n", site)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "STEP 2: Open Developer Tools")
	fmt.Fprintln(w, "   • Chrome/Edge/Brave/Firefox: F12 or Ctrl+Shift+I (Cmd+Option+I on Mac)")
	fmt.Fprintln(w, "   • Safari: enable the Develop menu, then Cmd+Option+I")
	fmt.Fprintln(w)

	fmt.Fprintln(w, "STEP 3: Copy the Cookie header")
	fmt.Fprintln(w, "   1. Network tab, refresh the page")
	fmt.Fprintf(w, "   2. Click any request to %s\n", strings.TrimPrefix(site, "https://"))
	fmt.Fprintln(w, "   3. Headers > Request Headers > copy the whole 'Cookie:' value")
	fmt.Fprintln(w)

	fmt.Fprintf(w, "The header must contain: %s\n", strings.Join(required, ", "))
	fmt.Fprintln(w)

	fmt.Fprintln(w, "SECURITY WARNING:")
	fmt.Fprintln(w, "   • These cookies give FULL access to your account")
	fmt.Fprintln(w, "   • They are stored in your keychain or an encrypted file")
	fmt.Fprintln(w, strings.Repeat("=", 80))
}

// ShowQuickExtractGuide writes the condensed version
func ShowQuickExtractGuide(w io.Writer, platform string) {
	fmt.Fprintf(w, "\nQuick guide: F12 → Network → refresh → any %s request → Headers → Cookie\n", platform)
	fmt.Fprintf(w, "   Need: %s\n", strings.Join(RequiredCookies[platform], ", "))
	fmt.Fprintln(w, "   Type 'help' for detailed instructions")
}
