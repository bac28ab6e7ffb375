// Package instagram implements the Instagram platform for the harvester.
//
// A profile grid is scrolled by a browser session; each post link found on
// the grid is resolved through the web JSON endpoint
// (/p/<shortcode>/?__a=1) by Client, which carries the session cookies of
// a logged-in account:
//
//	client := instagram.NewClient(30*time.Second, log)
//	client.SetCookies(cookies)
//	platform := instagram.NewPlatform(client, session, log)
//	h := harvest.New(session, platform, harvest.Options{
//	    Pause: 5 * time.Second,
//	    Stop:  instagram.StopBefore(untilDate),
//	})
//
// Image, video and sidecar posts are converted to items whose media refs
// are named after the media shortcode.
package instagram
