package ui

import "context"

type UI interface {
	RenderOutput(ctx context.Context, s string, style ...StyleOption)

	// ClearScreen clears any output rendered to the screen
	ClearScreen()
}

type style struct {
	foreground     ColorValue
	renderMarkdown bool
}

type ColorValue string

const (
	ColorGreen ColorValue = "green"
	ColorWhite ColorValue = "white"
	ColorRed   ColorValue = "red"
)

var ansiColors = map[ColorValue]string{
	ColorRed:   "\033[31m",
	ColorGreen: "\033[32m",
	ColorWhite: "\033[37m",
}

const ansiReset = "\033[0m"

type StyleOption func(s *style)

func Foreground(color ColorValue) StyleOption {
	return func(s *style) {
		s.foreground = color
	}
}

func RenderMarkdown() StyleOption {
	return func(s *style) {
		s.renderMarkdown = true
	}
}
