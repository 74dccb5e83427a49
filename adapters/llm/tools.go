package llm

import (
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/mi6Fsoc/reroom-prototype/domain"
)

const systemInstruction = `You are an expert Interior Design Consultant.
Your goal is to help users redesign their rooms.

Capabilities:
1. VISUAL UPDATES: If the user wants to visually change the room (e.g., "change style to boho", "make walls green", "remove the chair"), you MUST call the 'update_design' tool with a specific prompt describing the desired image.
2. COLOR PALETTES: If the user asks for a color scheme or palette, call the 'suggest_palette' tool with 3 to 6 named colors and their hex codes.
3. INFORMATION & SHOPPING: If the user asks for product recommendations, prices, or where to buy items seen in the design, use Google Search to find real-world items and provide links.

Tone:
Be helpful, encouraging, and concise. Focus on design aesthetics and practical advice.`

var updateDesignDeclaration = &genai.FunctionDeclaration{
	Name:        domain.ToolUpdateDesign,
	Description: "Update or modify the visual design of the room based on user instructions. Use this when the user asks to change colors, furniture styles, lighting, or layout.",
	Parameters: &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"editInstruction": {
				Type:        genai.TypeString,
				Description: `A precise, descriptive prompt for an image generation model to apply the requested changes (e.g., "Make the rug blue and textured", "Add a floor lamp next to the sofa").`,
			},
		},
		Required: []string{"editInstruction"},
	},
}

var suggestPaletteDeclaration = &genai.FunctionDeclaration{
	Name:        domain.ToolSuggestPalette,
	Description: "Show the user a color palette for their room. Use this when the user asks for a color scheme or which colors go well together.",
	Parameters: &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"colors": {
				Type:        genai.TypeArray,
				Description: "The palette colors, in display order.",
				Items: &genai.Schema{
					Type: genai.TypeObject,
					Properties: map[string]*genai.Schema{
						"name": {Type: genai.TypeString, Description: "Human-friendly color name, e.g. Sage Green."},
						"hex":  {Type: genai.TypeString, Description: "Hex color code, e.g. #9CAF88."},
					},
					Required: []string{"name", "hex"},
				},
			},
		},
		Required: []string{"colors"},
	},
}

func designTools() []*genai.Tool {
	return []*genai.Tool{
		{FunctionDeclarations: []*genai.FunctionDeclaration{updateDesignDeclaration, suggestPaletteDeclaration}},
		{GoogleSearch: &genai.GoogleSearch{}},
	}
}

// decodeToolCall maps a function call onto the closed domain tool set.
func decodeToolCall(fc *genai.FunctionCall) (domain.ToolCall, error) {
	if fc == nil {
		return nil, fmt.Errorf("nil function call")
	}

	switch fc.Name {
	case domain.ToolUpdateDesign:
		instruction, _ := fc.Args["editInstruction"].(string)
		return domain.UpdateDesign{
			ID:              fc.ID,
			EditInstruction: strings.TrimSpace(instruction),
		}, nil
	case domain.ToolSuggestPalette:
		return domain.SuggestPalette{
			ID:     fc.ID,
			Colors: decodePalette(fc.Args["colors"]),
		}, nil
	default:
		return nil, fmt.Errorf("unknown tool %q", fc.Name)
	}
}

// decodePalette keeps every entry that has a hex code. Entries without a
// name are named after their code.
func decodePalette(raw any) []domain.PaletteColor {
	items, ok := raw.([]any)
	if !ok {
		return nil
	}

	colors := make([]domain.PaletteColor, 0, len(items))
	for _, item := range items {
		entry, ok := item.(map[string]any)
		if !ok {
			continue
		}
		hex, _ := entry["hex"].(string)
		hex = strings.TrimSpace(hex)
		if hex == "" {
			continue
		}
		if !strings.HasPrefix(hex, "#") {
			hex = "#" + hex
		}
		name, _ := entry["name"].(string)
		name = strings.TrimSpace(name)
		if name == "" {
			name = hex
		}
		colors = append(colors, domain.PaletteColor{Name: name, Hex: strings.ToUpper(hex)})
	}
	return colors
}
