package protocol

// Theme is an enumerated display/behaviour mode shared by hub and device.
// Both sides must agree on the set byte-for-byte; validation on the broker
// path and the local RPC path funnels through ValidTheme.
type Theme string

// The fixed theme enumeration.
const (
	ThemeMario       Theme = "mario"
	ThemeRock        Theme = "rock"
	ThemeElectronics Theme = "electronics"
	ThemeChemistry   Theme = "chemistry"
	ThemeRobotics    Theme = "robotics"
	ThemeMath        Theme = "math"
	ThemePhysics     Theme = "physics"
	ThemeBiology     Theme = "biology"
	ThemeArt         Theme = "art"
	ThemeMusic       Theme = "music"
	ThemeSpace       Theme = "space"
)

// DefaultTheme is the theme a device boots with before any push.
const DefaultTheme = ThemeMario

// AllThemes returns every valid theme in a stable order.
func AllThemes() []Theme {
	return []Theme{
		ThemeMario, ThemeRock, ThemeElectronics, ThemeChemistry,
		ThemeRobotics, ThemeMath, ThemePhysics, ThemeBiology,
		ThemeArt, ThemeMusic, ThemeSpace,
	}
}

// validThemes is built once for O(1) membership checks.
var validThemes = func() map[Theme]struct{} {
	set := make(map[Theme]struct{}, len(AllThemes()))
	for _, t := range AllThemes() {
		set[t] = struct{}{}
	}
	return set
}()

// ValidTheme reports whether s names a theme in the fixed enumeration.
func ValidTheme(s string) bool {
	_, ok := validThemes[Theme(s)]
	return ok
}
