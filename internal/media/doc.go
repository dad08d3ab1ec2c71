// Package media owns the live capture streams of a proctoring session.
//
// A Manager hands out reference-counted handles per media kind. All handles
// of one kind share a single underlying stream, the device is opened at most
// once while a handle is outstanding, and the stream's tracks are stopped by
// the manager alone when the last handle is released. Detectors only ever see
// a Handle through the domain.FrameSource interface and cannot stop tracks.
package media
