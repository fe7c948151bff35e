/*
Package flowgen validates user-authored orchestration graphs and transpiles
them into LangGraph-style Python programs.

# Overview

A graph is a list of nodes (id, type, optional label and code) and a list of
edges between node ids or the START and END sentinels. Graphs come from
untrusted editors, so every request passes through the validator before any
code is generated:

	raw JSON -> Parse/Validate -> canonical *Graph -> Generator -> program text

The validator bounds sizes, sanitizes every string, and rejects anything it
cannot prove well-formed with a *ValidationError naming the offending field.

# Strategies

Two generators implement the same rule set:

  - Compiler applies the rules directly. Output is deterministic and
    byte-identical for identical graphs. This is the default.
  - Delegate sends the rule document to an external text generator as the
    system prompt and the graph as escaped JSON in a separate data message,
    then checks the returned program for conformance.

# Basic Usage

	t, err := flowgen.New(flowgen.NewCompiler())
	if err != nil {
	    log.Fatal(err)
	}

	res, err := t.Transpile(ctx, body)
	switch {
	case errors.Is(err, flowgen.ErrValidation):
	    // 400: the caller can fix the graph
	case errors.Is(err, flowgen.ErrConfiguration):
	    // 503: the deployment is missing something
	case errors.Is(err, flowgen.ErrGeneration):
	    // 502: show GenerationError.PublicMessage, log the cause
	}
	fmt.Print(res.Code)

# Generated Program Shape

	from langgraph.graph import END, START, StateGraph

	<bootstrap: State definition>

	def fetch(state: State):
	    <node code, indented one level>

	builder = StateGraph(State)
	builder.add_node("Fetch", fetch)
	builder.add_edge(START, "Fetch")
	builder.add_edge("Fetch", END)
	graph = builder.compile()

Nodes without code get a body that raises NotImplementedError naming the
node. Only nodes of type "NODE" produce functions and registrations.
*/
package flowgen
