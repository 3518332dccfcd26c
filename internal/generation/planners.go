package generation

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

const (
	TypeOutfitGeneration   = "outfit_generation"
	TypeGenderConversion   = "gender_conversion"
	TypeShowcaseGeneration = "showcase_generation"
	TypeScenePhotos        = "scene_photos"
	TypeProfilePhoto       = "profile_photo"
	TypeShowcaseVideo      = "showcase_video"
)

const (
	portraitRatio = "9:16"
	squareRatio   = "1:1"
)

// ---- outfit_generation

type OutfitPlanner struct{}

type outfitParams struct {
	AmbassadorID    string `json:"ambassador_id"`
	ProfileImageURL string `json:"profile_image_url"`
	Outfits         []struct {
		ID          string `json:"id"`
		ImageURL    string `json:"image_url"`
		Description string `json:"description"`
	} `json:"outfits"`
	ImagesPerOutfit int `json:"images_per_outfit"`
}

func (OutfitPlanner) Type() string { return TypeOutfitGeneration }

func (OutfitPlanner) Plan(_ context.Context, raw json.RawMessage) ([]Descriptor, error) {
	var p outfitParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	if strings.TrimSpace(p.ProfileImageURL) == "" {
		return nil, invalid("profile_image_url is required")
	}
	if len(p.Outfits) == 0 {
		return nil, invalid("at least one outfit is required")
	}
	per := p.ImagesPerOutfit
	if per == 0 {
		per = 2
	}
	if per < 1 || per > 4 {
		return nil, invalid("images_per_outfit must be between 1 and 4")
	}

	var out []Descriptor
	for i, o := range p.Outfits {
		if strings.TrimSpace(o.ImageURL) == "" {
			return nil, invalid("outfits[%d].image_url is required", i)
		}
		outfitID := o.ID
		if outfitID == "" {
			outfitID = strconv.Itoa(i)
		}
		prompt := "Dress the person from the first image in the outfit from the second image. " +
			"Keep face, body shape and skin tone identical. Full body, natural light, neutral background."
		if o.Description != "" {
			prompt += " Outfit: " + o.Description + "."
		}
		for v := 0; v < per; v++ {
			d := Descriptor{
				Kind:          KindImage,
				Label:         fmt.Sprintf("outfit %s #%d", outfitID, v+1),
				Prompt:        prompt,
				ReferenceURLs: []string{p.ProfileImageURL, o.ImageURL},
				AspectRatio:   portraitRatio,
				ImageSize:     "2K",
				Meta:          map[string]string{"outfit_id": outfitID, "variant": strconv.Itoa(v)},
			}
			if p.AmbassadorID != "" {
				d.KeyPrefix = fmt.Sprintf("ambassador_outfits/%s/%s_%d", p.AmbassadorID, outfitID, v)
			}
			out = append(out, d)
		}
	}
	return out, nil
}

// ---- gender_conversion

type GenderConversionPlanner struct{}

type genderParams struct {
	TargetGender string `json:"target_gender"`
	Items        []struct {
		ID       string `json:"id"`
		ImageURL string `json:"image_url"`
		Gender   string `json:"gender"`
	} `json:"items"`
}

func (GenderConversionPlanner) Type() string { return TypeGenderConversion }

func (GenderConversionPlanner) Plan(_ context.Context, raw json.RawMessage) ([]Descriptor, error) {
	var p genderParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	target := strings.ToLower(strings.TrimSpace(p.TargetGender))
	if target != "male" && target != "female" {
		return nil, invalid("target_gender must be male or female")
	}
	if len(p.Items) == 0 {
		return nil, invalid("items must not be empty")
	}

	out := make([]Descriptor, 0, len(p.Items))
	for i, it := range p.Items {
		if strings.TrimSpace(it.ImageURL) == "" {
			return nil, invalid("items[%d].image_url is required", i)
		}
		id := it.ID
		if id == "" {
			id = strconv.Itoa(i)
		}
		out = append(out, Descriptor{
			Kind:  KindImage,
			Label: "item " + id,
			Prompt: fmt.Sprintf("Recreate this clothing item as its %s-cut equivalent. "+
				"Keep fabric, color, pattern and details. Flat lay product photo on white background.", target),
			ReferenceURLs: []string{it.ImageURL},
			AspectRatio:   squareRatio,
			ImageSize:     "1K",
			Meta: map[string]string{
				"item_id":       id,
				"source_gender": strings.ToLower(strings.TrimSpace(it.Gender)),
				"target_gender": target,
			},
		})
	}
	return out, nil
}

// Precheck skips items that are already cut for the target gender.
func (GenderConversionPlanner) Precheck(d Descriptor) (bool, string) {
	src, dst := d.Meta["source_gender"], d.Meta["target_gender"]
	if src != "" && src == dst {
		return true, "item is already " + dst
	}
	return false, ""
}

// ---- showcase_generation

type ShowcasePlanner struct {
	Describer Describer
}

type showcaseParams struct {
	AmbassadorID string `json:"ambassador_id"`
	Gender       string `json:"gender"`
	Description  string `json:"description"`
	References   []struct {
		URL       string `json:"url"`
		Category  string `json:"category"`
		Validated bool   `json:"validated"`
	} `json:"references"`
	ProductImageURLs []string `json:"product_image_urls"`
	NumScenes        int      `json:"num_scenes"`
}

// fallbackScenes are used when no description could be generated.
var fallbackScenes = []string{
	"Sitting on a chair facing the camera, hands on thighs, leaning slightly forward, light smile, plain white wall.",
	"Standing facing the camera, arms crossed, confident neutral expression, simple wall behind.",
	"Sitting at a desk with an open laptop, looking at the camera over the screen, focused expression.",
	"Standing in a kitchen, leaning against the counter, looking at the camera, calm expression.",
	"Sitting on the edge of a sofa, direct look into the camera, calm and sincere expression.",
	"Standing, one hand in a pocket, other arm relaxed, looking calmly at the camera.",
	"Sitting on a bar stool, straight back, hands on thighs, focused look at the camera.",
	"Standing facing the camera, hands behind the back, chin slightly raised, small smile.",
	"Sitting cross-legged on the sofa, hands joined, serious but relaxed look at the camera.",
	"Sitting at a desk, elbows on the table, hands joined in front of the mouth, focused look.",
	"Leaning with one shoulder against a wall, looking at the camera, cool neutral expression.",
	"Sitting in a living room, elbows on thighs, hands joined, looking at the camera.",
	"Standing in the kitchen, arms crossed, leaning on the counter, serious look at the camera.",
	"Sitting at a desk with an open notebook, pen in hand, focused look at the camera.",
	"Standing near a window, light on the face, body slightly turned, calm serious look at the camera.",
}

func (ShowcasePlanner) Type() string { return TypeShowcaseGeneration }

func (s ShowcasePlanner) Plan(ctx context.Context, raw json.RawMessage) ([]Descriptor, error) {
	var p showcaseParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	var refs []string
	for _, r := range p.References {
		if r.Validated && strings.TrimSpace(r.URL) != "" {
			refs = append(refs, r.URL)
		}
	}
	if len(refs) == 0 {
		return nil, invalid("at least one validated reference image is required")
	}
	n := p.NumScenes
	if n == 0 {
		n = len(fallbackScenes)
	}
	if n < 1 || n > 30 {
		return nil, invalid("num_scenes must be between 1 and 30")
	}

	brief := fmt.Sprintf("Write %d varied UGC photo scenes for a %s brand ambassador. %s "+
		"Each scene: pose, location, expression, one sentence, looking at the camera.",
		n, orDefault(p.Gender, "person"), p.Description)
	scenes, err := s.describe(ctx, brief, n)
	if err != nil || len(scenes) < n {
		scenes = cycle(fallbackScenes, n)
	}
	scenes = scenes[:n]

	out := make([]Descriptor, 0, n)
	for i, scene := range scenes {
		refURLs := []string{refs[i%len(refs)]}
		// every other scene shows a product, if any
		if len(p.ProductImageURLs) > 0 && i%2 == 1 {
			refURLs = append(refURLs, p.ProductImageURLs[(i/2)%len(p.ProductImageURLs)])
		}
		d := Descriptor{
			Kind:  KindImage,
			Label: fmt.Sprintf("scene %d", i+1),
			Prompt: "Photo of the person from the first image, same face and outfit. " + scene +
				" Smartphone UGC style, realistic.",
			ReferenceURLs: refURLs,
			AspectRatio:   portraitRatio,
			ImageSize:     "2K",
			Meta:          map[string]string{"scene": scene},
		}
		if p.AmbassadorID != "" {
			d.KeyPrefix = fmt.Sprintf("showcase/%s/scene_%d", p.AmbassadorID, i+1)
		}
		out = append(out, d)
	}
	return out, nil
}

func (s ShowcasePlanner) describe(ctx context.Context, brief string, n int) ([]string, error) {
	if s.Describer == nil {
		return nil, fmt.Errorf("no describer")
	}
	return s.Describer.Describe(ctx, brief, n)
}

// ---- scene_photos

type ScenePhotosPlanner struct{}

type scenePhotosParams struct {
	ReferenceImageURL string   `json:"reference_image_url"`
	Scenes            []string `json:"scenes"`
	AspectRatio       string   `json:"aspect_ratio"`
}

func (ScenePhotosPlanner) Type() string { return TypeScenePhotos }

func (ScenePhotosPlanner) Plan(_ context.Context, raw json.RawMessage) ([]Descriptor, error) {
	var p scenePhotosParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	if strings.TrimSpace(p.ReferenceImageURL) == "" {
		return nil, invalid("reference_image_url is required")
	}
	ratio := orDefault(p.AspectRatio, portraitRatio)
	var out []Descriptor
	for _, scene := range p.Scenes {
		if scene = strings.TrimSpace(scene); scene == "" {
			continue
		}
		out = append(out, Descriptor{
			Kind:          KindImage,
			Label:         fmt.Sprintf("scene %d", len(out)+1),
			Prompt:        "Photo of the person from the reference image, same identity. " + scene,
			ReferenceURLs: []string{p.ReferenceImageURL},
			AspectRatio:   ratio,
			ImageSize:     "2K",
		})
	}
	if len(out) == 0 {
		return nil, invalid("scenes must not be empty")
	}
	return out, nil
}

// ---- profile_photo

type ProfilePhotoPlanner struct{}

type profilePhotoParams struct {
	SourceImageURL string `json:"source_image_url"`
	Variations     int    `json:"variations"`
	Style          string `json:"style"`
}

var profileVariations = []string{
	"Professional headshot, soft studio light, neutral grey background.",
	"Outdoor portrait, golden hour, blurred city background.",
	"Casual portrait at home, natural window light.",
	"Close-up portrait, warm smile, light beige background.",
	"Half body portrait, arms crossed, modern office background.",
	"Portrait in a cafe, shallow depth of field.",
	"Black and white studio portrait, high contrast.",
	"Portrait outdoors in a park, soft daylight.",
}

func (ProfilePhotoPlanner) Type() string { return TypeProfilePhoto }

func (ProfilePhotoPlanner) Plan(_ context.Context, raw json.RawMessage) ([]Descriptor, error) {
	var p profilePhotoParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	if strings.TrimSpace(p.SourceImageURL) == "" {
		return nil, invalid("source_image_url is required")
	}
	n := p.Variations
	if n == 0 {
		n = 4
	}
	if n < 1 || n > len(profileVariations) {
		return nil, invalid("variations must be between 1 and %d", len(profileVariations))
	}
	out := make([]Descriptor, 0, n)
	for i := 0; i < n; i++ {
		prompt := "Transform this photo into a profile picture of the same person. " + profileVariations[i]
		if p.Style != "" {
			prompt += " Style: " + p.Style + "."
		}
		out = append(out, Descriptor{
			Kind:          KindImage,
			Label:         fmt.Sprintf("variation %d", i+1),
			Prompt:        prompt,
			ReferenceURLs: []string{p.SourceImageURL},
			AspectRatio:   squareRatio,
			ImageSize:     "1K",
		})
	}
	return out, nil
}

// ---- showcase_video

type ShowcaseVideoPlanner struct {
	Describer Describer
}

type showcaseVideoParams struct {
	ImageURLs      []string `json:"image_urls"`
	Duration       int      `json:"duration"`
	VideosPerImage int      `json:"videos_per_image"`
	Brief          string   `json:"brief"`
}

const (
	defaultVideoPrompt  = "The person makes a subtle movement. Static camera, no movement."
	videoNegativePrompt = "blurry, distorted face, extra limbs, low quality, watermark"
)

func (ShowcaseVideoPlanner) Type() string { return TypeShowcaseVideo }

// Plan asks the describer for one motion prompt per video and falls back to
// a default prompt when it fails or answers short.
func (s ShowcaseVideoPlanner) Plan(ctx context.Context, raw json.RawMessage) ([]Descriptor, error) {
	var p showcaseVideoParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	var images []string
	for _, u := range p.ImageURLs {
		if u = strings.TrimSpace(u); u != "" {
			images = append(images, u)
		}
	}
	if len(images) == 0 {
		return nil, invalid("image_urls must not be empty")
	}
	dur := p.Duration
	if dur == 0 {
		dur = 10
	}
	if dur != 5 && dur != 10 {
		return nil, invalid("duration must be 5 or 10")
	}
	per := p.VideosPerImage
	if per == 0 {
		per = 2
	}
	if per < 1 || per > 4 {
		return nil, invalid("videos_per_image must be between 1 and 4")
	}

	n := len(images) * per
	prompts := cycle([]string{defaultVideoPrompt}, n)
	if s.Describer != nil {
		brief := fmt.Sprintf("Write %d short, distinct motion prompts for %d-second vertical UGC videos "+
			"animating a still photo of a person with a static camera. %s", n, dur, p.Brief)
		if got, err := s.Describer.Describe(ctx, brief, n); err == nil && len(got) >= n {
			prompts = got[:n]
		}
	}

	out := make([]Descriptor, 0, n)
	for i, img := range images {
		for v := 0; v < per; v++ {
			k := i*per + v
			out = append(out, Descriptor{
				Kind:            KindVideo,
				Label:           fmt.Sprintf("image %d video %d", i+1, v+1),
				Prompt:          prompts[k],
				NegativePrompt:  videoNegativePrompt,
				ReferenceURLs:   []string{img},
				AspectRatio:     portraitRatio,
				DurationSeconds: dur,
				Meta:            map[string]string{"image_index": strconv.Itoa(i), "variant": strconv.Itoa(v)},
			})
		}
	}
	return out, nil
}

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}

func cycle(src []string, n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = src[i%len(src)]
	}
	return out
}
