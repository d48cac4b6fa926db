// Package splitter divides raw text into overlapping fixed-size windows for
// embedding and search.
//
// The splitter is the fallback chunking path for content the semantic
// chunker cannot handle: plain text, markdown, configuration files, and any
// source file whose language the AST capability does not support.
//
// # Boundary Preference
//
// Windows are cut at the best boundary available inside the size budget:
//
//  1. Paragraph break (blank line)
//  2. Sentence end (".", "!", "?" followed by space, or a newline)
//  3. Whitespace (never inside a word)
//  4. Hard character cut, only when a single word exceeds the budget
//
// # Overlap
//
// Each window repeats roughly the last overlap characters of its
// predecessor, re-aligned to a word boundary. Overlap must be strictly
// smaller than the window size; New rejects anything else.
//
// Because every window is an exact substring with recorded offsets and
// window starts strictly advance, concatenating the non-overlapping regions
// reconstructs the original text byte for byte.
package splitter
