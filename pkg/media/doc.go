// Package media downloads post media to disk.
//
// Downloader streams a single URL with byte-range resume: a partial file is
// continued with a Range request, a 416 or empty response on a non-empty file
// counts as complete, and a server that ignores the range causes a rewrite.
// VideoDownloader hands tweet pages to an external extractor such as yt-dlp.
// Both report success as a bool; failures become bucket entries upstream and
// never abort a run.
package media
