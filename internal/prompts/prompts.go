// Package prompts holds the instruction templates for each document class.
package prompts

import (
	"fmt"
	"os"
	"strings"

	"github.com/pokoscribe/scribeflow/internal/config"
)

// Set is the template group used for one document class.
type Set struct {
	// Role is sent as the system message of every request.
	Role string
	// Single is used when the whole document fits in one request.
	Single string
	// Batch is used for each chunk in the map phase.
	Batch string
	// Synthesis merges the cached per-chunk answers.
	Synthesis string
	// Citation, if non-empty, asks for a reference for the document. No
	// built-in set has one; it comes from a citation prompt file.
	Citation string
}

// --- Summarizer Prompts ---
const SummarizerRole = "You are an academic research assistant. You read scientific papers and write faithful, dense summaries that preserve the methods, the data, the findings and the limitations the authors report."

const SummarizerSingle = `Summarize the following paper.

Cover the research question, the method and sample, the main findings with their numbers, and the limitations the authors state. Do not add information that is not in the text. Write in continuous prose without headings.`

const SummarizerBatch = `The following text is one part of a longer paper. Summarize this part only.

Keep every finding, number and definition it contains. Do not speculate about the parts you have not seen.`

const SummarizerSynthesis = `The following are summaries of consecutive parts of one paper, in order. Merge them into a single summary of the whole paper.

Remove repetition, keep every finding and number, and write in continuous prose without headings.`

// SummarizerCitation is a ready-made citation prompt that can be copied into
// a prompts.citation file.
const SummarizerCitation = `From the following opening of a paper, produce its reference in APA 7th edition format. Return only the reference on one line. If a field cannot be found, omit it.`

// --- Outliner Prompts ---
const OutlinerRole = "You are an academic writing assistant who designs the structure of theses and review papers from research summaries."

const OutlinerSingle = `Create a detailed outline for an academic paper based on these summaries.

Generate a structured outline with main points and sub-points, and note under each point which summaries support it.`

const OutlinerBatch = `Create a detailed outline for an academic paper section based on these summaries.

Generate a structured outline with main points and sub-points.`

const OutlinerSynthesis = `Based on these separate outlines, create a unified, coherent outline.

Create a comprehensive outline that synthesizes all major themes and findings.`

// --- Chapter Maker Prompts ---
const ChaptersRole = "You are an academic writer. You turn research summaries and outlines into well argued thesis chapters with in-text citations."

const ChaptersSingle = `Write the chapter described by the following material.

Use formal academic prose, connect the findings into an argument, and cite the sources named in the material in APA style.`

const ChaptersBatch = `The following material is one part of the sources for a chapter. Write the sections of the chapter this material supports.

Use formal academic prose and cite the sources named in the material in APA style.`

const ChaptersSynthesis = `The following are drafts of consecutive sections of one chapter. Combine them into one coherent chapter.

Remove repetition, add transitions between sections, and keep every citation.`

// Builtin returns the default templates for class. Unknown classes get the
// summarizer templates.
func Builtin(class string) Set {
	switch class {
	case config.ClassOutliner:
		return Set{Role: OutlinerRole, Single: OutlinerSingle, Batch: OutlinerBatch, Synthesis: OutlinerSynthesis}
	case config.ClassChapters:
		return Set{Role: ChaptersRole, Single: ChaptersSingle, Batch: ChaptersBatch, Synthesis: ChaptersSynthesis}
	default:
		return Set{Role: SummarizerRole, Single: SummarizerSingle, Batch: SummarizerBatch, Synthesis: SummarizerSynthesis}
	}
}

// Load returns the built-in set for class with any template replaced by the
// contents of the file configured for it.
func Load(class string, files config.PromptFiles) (Set, error) {
	set := Builtin(class)
	for _, f := range []struct {
		path string
		dst  *string
	}{
		{files.Role, &set.Role},
		{files.Single, &set.Single},
		{files.Batch, &set.Batch},
		{files.Synthesis, &set.Synthesis},
		{files.Citation, &set.Citation},
	} {
		if f.path == "" {
			continue
		}
		data, err := os.ReadFile(f.path)
		if err != nil {
			return Set{}, fmt.Errorf("read prompt %s: %w", f.path, err)
		}
		*f.dst = strings.TrimSpace(string(data))
	}
	if set.Single == "" {
		set.Single = set.Batch
	}
	return set, nil
}

// Compose places body after the instruction template.
func Compose(template, body string) string {
	if template == "" {
		return body
	}
	return template + "\n\n" + body
}
