// ABOUTME: Package documentation for resample
// ABOUTME: Linear-interpolation sample rate conversion
// Package resample converts PCM streams between sample rates using linear
// interpolation. Quality is adequate for speech; no anti-aliasing filter.
package resample
