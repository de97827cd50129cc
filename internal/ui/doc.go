// Package ui holds the terminal palette used by the trackx CLI.
//
// [Palette] wraps [lipgloss] styles and knows how to color run states, credential states,
// run summaries and progress lines. [Styles] is the shared instance.
package ui
