// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package collab

import (
	"fmt"
	"strings"

	"github.com/AleutianAI/solgraph/services/llm"
)

// DefaultSubjectDomain is used when a collaborator is built without one.
const DefaultSubjectDomain = "math"

// StepMarker delimits steps in a breakdown response.
const StepMarker = "###"

func summaryPrompt(domain, step string) []llm.Message {
	return []llm.Message{
		llm.System(fmt.Sprintf("You are a helpful assistant who concisely and without unnecessary details "+
			"summarizes the key ideas of the following step of a solution to a %s problem.", domain)),
		llm.User("The step is as follows:\n" + step),
	}
}

func stepVerificationPrompt(domain, a, b string) []llm.Message {
	return []llm.Message{
		llm.System("You are a helpful assistant who checks whether the key ideas of certain texts are the exact same."),
		llm.User(fmt.Sprintf("Both texts are steps of a solution to a %s problem. "+
			"The first text is as follows:\n%s\nThe second text is as follows:\n%s\n"+
			"Please answer with a Yes or No.", domain, a, b)),
	}
}

func solutionDedupPrompt(domain, a, b string) []llm.Message {
	return []llm.Message{
		llm.System("Fundamentally, are these two solutions the same? They need to use all of the exact same ideas, " +
			"the same technique, and the same means of execution.\n\n" +
			"Don't overthink it! It should be obvious whether or not they're doing the same thing. " +
			"Okay reasons are, say, \"Solution 1 uses length XY while solution 2 does not; no.\"\n\n" +
			"Return one word: \"yes\" or \"no\", nothing else."),
		llm.User(fmt.Sprintf("Both texts are solutions to the same %s problem.\nSolution 1:\n%s\n\nSolution 2:\n%s", domain, a, b)),
	}
}

func breakdownPrompt(problem, solution string) []llm.Message {
	return []llm.Message{
		llm.System("You are a helpful assistant that can break down solutions into smaller steps and return them in a list."),
		llm.User("I was unable to solve the following problem:\n" + problem + "\n" +
			"I came across a potentially incomplete solution to the problem online, but I am unable to understand it. " +
			"Could you break down the solution into individual steps in a way that highlights key ideas and formulas " +
			"instead of simplification and computation? Adding concise comments and titles for each step would be helpful. " +
			"Start every step with a line beginning with " + StepMarker + ". The solution is as follows:\n" + solution),
	}
}

func bestMatchPrompt(domain, remaining string, candidates []string) []llm.Message {
	var b strings.Builder
	for i, c := range candidates {
		fmt.Fprintf(&b, "[%d] %s\n", i, c)
	}
	return []llm.Message{
		llm.System(fmt.Sprintf("You compare partial solutions to a %s problem. Given the remainder of a solution and a "+
			"numbered list of candidate steps, pick the candidate that the remainder begins with. "+
			"Answer with the candidate number only, or the word none if no candidate fits.", domain)),
		llm.User("Remainder of the solution:\n" + remaining + "\n\nCandidates:\n" + b.String()),
	}
}

func sharedPrefixPrompt(domain, a, b string) []llm.Message {
	return []llm.Message{
		llm.System(fmt.Sprintf("You compare two partial solutions to a %s problem and extract the reasoning they share "+
			"at the start. Reply with a JSON object with the keys \"shared\", \"unshared_a\" and \"unshared_b\": "+
			"the common leading reasoning, the rest of text A, and the rest of text B. Use empty strings where "+
			"nothing applies and output nothing but the JSON object.", domain)),
		llm.User("Text A:\n" + a + "\n\nText B:\n" + b),
	}
}
