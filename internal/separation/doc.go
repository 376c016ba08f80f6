// Package separation implements the first pipeline stage: downloading the two
// source tracks and splitting each into vocal, drum, bass, and other stems via
// the external separator service.
package separation
