package review

import (
	"fmt"
	"strings"

	"github.com/helixir/paper-review-service/internal/domain"
	"github.com/helixir/paper-review-service/internal/llm"
)

// Input caps, in runes, applied when material is placed into a prompt.
const (
	maxPromptPaperText   = 20000
	maxPromptPaperInfo   = 5000
	maxPromptRelated     = 10000
	maxPromptInnovation  = 2000
	maxPromptEvaluation  = 3000
	maxRawExcerpt        = 1800
	maxRelatedAbstract   = 600
	fieldsResponseTokens = 2048
)

func clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// formatPaper renders the structured fields plus a raw excerpt of the text.
func formatPaper(fields domain.PaperFields, text string) string {
	var sb strings.Builder
	if fields.Title != "" {
		fmt.Fprintf(&sb, "Title:\n%s\n\n", fields.Title)
	}
	if fields.Abstract != "" {
		fmt.Fprintf(&sb, "Abstract:\n%s\n\n", fields.Abstract)
	}
	if len(fields.Keywords) > 0 {
		fmt.Fprintf(&sb, "Keywords:\n%s\n\n", strings.Join(fields.Keywords, ", "))
	}
	for _, s := range fields.Sections {
		if strings.TrimSpace(s.Body) == "" {
			continue
		}
		fmt.Fprintf(&sb, "%s:\n%s\n\n", s.Heading, s.Body)
	}
	if excerpt := strings.TrimSpace(clip(text, maxRawExcerpt)); excerpt != "" {
		sb.WriteString("Raw PDF Excerpt:\n")
		sb.WriteString(excerpt)
		if len([]rune(text)) > maxRawExcerpt {
			sb.WriteString("\n...")
		}
		sb.WriteString("\n")
	}
	if sb.Len() == 0 {
		return "[Parser Warning] Structured sections unavailable."
	}
	return strings.TrimSpace(sb.String())
}

// formatRelated renders candidate papers as a numbered list.
func formatRelated(papers []domain.PaperRecord) string {
	if len(papers) == 0 {
		return "None found."
	}
	var sb strings.Builder
	for i, p := range papers {
		fmt.Fprintf(&sb, "Paper %d:\nTitle: %s\n", i+1, p.Title)
		if p.Year > 0 {
			fmt.Fprintf(&sb, "Year: %d\n", p.Year)
		}
		if p.Abstract != "" {
			fmt.Fprintf(&sb, "Abstract: %s\n", p.Snippet(maxRelatedAbstract))
		}
		sb.WriteString("\n")
	}
	return strings.TrimSpace(sb.String())
}

func fieldsPrompt(text string, lang Language) llm.Prompt {
	var sys strings.Builder
	sys.WriteString("You are an expert at analyzing academic papers. ")
	sys.WriteString("Extract structured information from the PDF text you are given.\n\n")
	sys.WriteString("You MUST respond with valid JSON in exactly this format:\n")
	sys.WriteString(`{"title": "...", "abstract": "...", "keywords": ["..."], "sections": [{"heading": "...", "body": "..."}]}`)
	sys.WriteString("\n\nGuidelines:\n")
	sys.WriteString("1. Use the paper's own title and abstract verbatim where possible.\n")
	sys.WriteString("2. Sections should cover Introduction, Methodology, Experiments, Results, Conclusion, ")
	sys.WriteString("Core Contributions and Technical Approach when present, each summarized in a few sentences.\n")
	sys.WriteString("3. Omit anything you cannot find instead of guessing.\n")
	sys.WriteString(lang.Pick("", "4. Write section summaries in Chinese.\n"))

	return llm.Prompt{
		System:    sys.String(),
		User:      "PDF Text:\n---\n" + clip(text, maxPromptPaperText) + "\n---",
		JSON:      true,
		MaxTokens: fieldsResponseTokens,
		Operation: "extract_fields",
	}
}

func keywordsPrompt(fields domain.PaperFields, text string) llm.Prompt {
	var sys strings.Builder
	sys.WriteString("You are a research keyword extraction specialist with deep expertise ")
	sys.WriteString("in academic literature search. Extract 3-5 core keywords that best represent ")
	sys.WriteString("the paper's research topic.\n\n")
	sys.WriteString("Keywords must be:\n")
	sys.WriteString("1. Nouns or noun phrases.\n")
	sys.WriteString("2. In lowercase English, whatever the language of the paper.\n")
	sys.WriteString("3. Representative of the central concepts or approaches.\n")
	sys.WriteString("4. Suitable for academic paper search.\n\n")
	sys.WriteString("Output the keywords separated by commas, without any additional text or formatting.\n")
	sys.WriteString("Example format: keyword1, keyword2, keyword3")

	return llm.Prompt{
		System:    sys.String(),
		User:      "Structured Paper Information:\n" + clip(formatPaper(fields, text), maxPromptPaperInfo),
		MaxTokens: 128,
		Operation: "extract_keywords",
	}
}

func innovationPrompt(fields domain.PaperFields, text string, related []domain.PaperRecord, lang Language) llm.Prompt {
	var user strings.Builder
	user.WriteString(lang.Pick("Paper Information:\n", "论文信息：\n"))
	user.WriteString(clip(formatPaper(fields, text), maxPromptPaperInfo))
	user.WriteString(lang.Pick("\n\nRelated Papers:\n", "\n\n相关论文：\n"))
	user.WriteString(clip(formatRelated(related), maxPromptRelated))

	system := lang.Pick(
		"You are an expert at analyzing research innovation. Based on the paper and the related work, analyze:\n"+
			"1. **Innovation Points**: the novel contributions of this paper.\n"+
			"2. **Differences from Related Work**: how it differs from the listed papers.\n"+
			"3. **Advantages**: the strengths of its approach.\n"+
			"4. **Originality Assessment**: High, Medium or Low, with a brief explanation.",
		"你是一位研究创新性分析专家。请基于论文信息和相关工作，用中文分析：\n"+
			"1. **创新点**：论文的新颖贡献。\n"+
			"2. **与相关工作的区别**：与所列论文的不同之处。\n"+
			"3. **优势**：方法的长处。\n"+
			"4. **原创性评估**：高、中或低，并简要说明。",
	)
	return llm.Prompt{System: system, User: user.String(), Operation: "analyze_innovation"}
}

func evaluationPrompt(fields domain.PaperFields, text, innovation string, related []domain.PaperRecord, lang Language) llm.Prompt {
	var user strings.Builder
	user.WriteString(lang.Pick("Paper Information:\n", "论文信息：\n"))
	user.WriteString(clip(formatPaper(fields, text), maxPromptPaperInfo))
	user.WriteString(lang.Pick("\n\nInnovation Analysis:\n", "\n\n创新点分析：\n"))
	user.WriteString(clip(innovation, maxPromptInnovation))
	user.WriteString(lang.Pick("\n\nRelated Papers Context:\n", "\n\n相关论文：\n"))
	user.WriteString(clip(formatRelated(related), maxPromptPaperInfo))

	system := lang.Pick(
		"You are an expert academic reviewer. Evaluate the paper in detail on each dimension, "+
			"giving a score out of 10 for each:\n"+
			"1. **Technical Quality**: soundness of the method, experimental design, credibility of results.\n"+
			"2. **Novelty**: innovation level and significance compared to existing work.\n"+
			"3. **Clarity**: writing quality, organization and readability.\n"+
			"4. **Completeness**: experimental sufficiency, discussion depth, missing elements.",
		"你是一位资深的学术评审专家。请用中文从以下维度详细评估论文，并为每个维度给出10分制评分：\n"+
			"1. **技术质量**：方法合理性、实验设计、结果可信度。\n"+
			"2. **新颖性**：创新程度及相对现有工作的重要性。\n"+
			"3. **清晰度**：写作质量、组织结构与可读性。\n"+
			"4. **完整性**：实验充分性、讨论深度、缺失内容。",
	)
	return llm.Prompt{System: system, User: user.String(), Operation: "evaluate"}
}

func reportPrompt(fields domain.PaperFields, text, innovation, evaluation string, lang Language) llm.Prompt {
	var user strings.Builder
	user.WriteString(lang.Pick("Paper Information:\n", "论文信息：\n"))
	user.WriteString(clip(formatPaper(fields, text), maxPromptPaperInfo))
	user.WriteString(lang.Pick("\n\nEvaluation:\n", "\n\n评估结果：\n"))
	user.WriteString(clip(evaluation, maxPromptEvaluation))
	user.WriteString(lang.Pick("\n\nInnovation Analysis:\n", "\n\n创新点分析：\n"))
	user.WriteString(clip(innovation, maxPromptInnovation))

	system := lang.Pick(
		"You are an expert academic reviewer. Write a review report in Markdown with exactly these "+
			"top-level sections, in order: # Summary, # Strengths, # Weaknesses / Concerns, "+
			"# Questions for Authors, # Score. The Score section lists Overall, Novelty, Technical Quality "+
			"and Clarity out of 10 and Confidence out of 5.",
		"你是一位资深的学术评审专家。请用中文撰写Markdown格式的评阅报告，一级标题依次为："+
			"# 摘要（Summary）、# 优点（Strengths）、# 缺点/关注点（Weaknesses / Concerns）、"+
			"# 给作者的问题（Questions for Authors）、# 评分（Score）。评分部分列出总体、新颖性、"+
			"技术质量和清晰度（10分制）以及置信度（5分制）。",
	)
	return llm.Prompt{System: system, User: user.String(), MaxTokens: 4096, Operation: "generate_report"}
}
