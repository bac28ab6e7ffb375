// Package browser drives a headless Chrome tab through chromedp and exposes
// it as a scrollable page source for the harvester.
//
// A Session owns one browser process. The primary tab is used for the
// result listing; RenderURL opens short-lived tabs for detail pages.
// Every action is bounded by the session timeout and by the caller's
// context.
package browser
