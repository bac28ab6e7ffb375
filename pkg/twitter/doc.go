// Package twitter implements the Twitter search platform for the harvester.
//
// Search filters are composed into a search URL, result pages are scrolled
// by a browser session, and every tweet is rendered in a second tab to read
// its text and media. Images are requested in original size first with the
// plain URL as fallback; videos are referenced by their tweet URL and left
// to the external video extractor.
package twitter
