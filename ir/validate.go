package ir

import (
	"fmt"
)

// ValidationError represents a validation error.
type ValidationError struct {
	Message string
	// Optional context
	Function   string
	Expression *ExpressionHandle
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	if e.Function != "" {
		if e.Expression != nil {
			return fmt.Sprintf("in function %s, expression %d: %s", e.Function, *e.Expression, e.Message)
		}
		return fmt.Sprintf("in function %s: %s", e.Function, e.Message)
	}
	return e.Message
}

// Validator validates a shader.
type Validator struct {
	shader *Shader
	fn     *Function
	errors []ValidationError

	emitted   []bool
	loopDepth int
}

// Validate checks the shader for structural errors.
// Returns validation errors if any, or nil if the shader is valid.
func Validate(sh *Shader) ([]ValidationError, error) {
	if sh == nil || sh.Func == nil {
		return nil, fmt.Errorf("shader is nil")
	}

	v := &Validator{
		shader:  sh,
		fn:      sh.Func,
		emitted: make([]bool, len(sh.Func.Expressions)),
	}
	v.validateLocals()
	v.validateBlock(sh.Func.Body)

	if len(v.errors) > 0 {
		return v.errors, nil
	}
	return nil, nil
}

func (v *Validator) addError(msg string) {
	v.errors = append(v.errors, ValidationError{Message: msg, Function: v.fn.Name})
}

func (v *Validator) addExprError(h ExpressionHandle, msg string) {
	v.errors = append(v.errors, ValidationError{Message: msg, Function: v.fn.Name, Expression: &h})
}

func (v *Validator) validateLocals() {
	for i, lv := range v.fn.LocalVars {
		if lv.NumComponents == 0 || lv.NumComponents > 4 {
			v.addError(fmt.Sprintf("local %d (%s) has %d components", i, lv.Name, lv.NumComponents))
		}
		if !validBitSize(lv.BitSize) {
			v.addError(fmt.Sprintf("local %d (%s) has bit size %d", i, lv.Name, lv.BitSize))
		}
	}
}

func validBitSize(bits uint8) bool {
	switch bits {
	case 1, 8, 16, 32, 64:
		return true
	}
	return false
}

// validateBlock checks a block. Expressions emitted inside the block stop
// being visible when the block ends.
func (v *Validator) validateBlock(blk Block) {
	var local []ExpressionHandle
	defer func() {
		for _, h := range local {
			v.emitted[h] = false
		}
	}()

	for _, st := range blk {
		switch s := st.Kind.(type) {
		case StmtEmit:
			if s.Range.Start > s.Range.End || int(s.Range.End) > len(v.fn.Expressions) {
				v.addError(fmt.Sprintf("emit range [%d, %d) out of bounds", s.Range.Start, s.Range.End))
				continue
			}
			for h := s.Range.Start; h < s.Range.End; h++ {
				v.validateExpression(h)
				if v.emitted[h] {
					v.addExprError(h, "emitted twice")
				}
				v.emitted[h] = true
				local = append(local, h)
			}
		case StmtIf:
			if v.checkUse(s.Condition) {
				e := v.fn.Expressions[s.Condition]
				if e.NumComponents != 1 || e.BitSize != 1 {
					v.addExprError(s.Condition, "if condition must be a 1-bit scalar")
				}
			}
			v.validateBlock(s.Accept)
			v.validateBlock(s.Reject)
		case StmtLoop:
			v.loopDepth++
			v.validateBlock(s.Body)
			v.loopDepth--
		case StmtBreak:
			if v.loopDepth == 0 {
				v.addError("break outside of a loop")
			}
		case StmtContinue:
			if v.loopDepth == 0 {
				v.addError("continue outside of a loop")
			}
		case StmtStoreLocal:
			if int(s.Local) >= len(v.fn.LocalVars) {
				v.addError(fmt.Sprintf("store to invalid local %d", s.Local))
				continue
			}
			lv := v.fn.LocalVars[s.Local]
			if s.WriteMask>>lv.NumComponents != 0 {
				v.addError(fmt.Sprintf("write mask %#x exceeds %d-component local %s", s.WriteMask, lv.NumComponents, lv.Name))
			}
			if v.checkUse(s.Value) {
				e := v.fn.Expressions[s.Value]
				if e.BitSize != lv.BitSize {
					v.addExprError(s.Value, fmt.Sprintf("%d-bit value stored to %d-bit local %s", e.BitSize, lv.BitSize, lv.Name))
				}
				if s.WriteMask == 0 && e.NumComponents != lv.NumComponents {
					v.addExprError(s.Value, fmt.Sprintf("%d-component value stored to %d-component local %s", e.NumComponents, lv.NumComponents, lv.Name))
				}
			}
		case StmtBarrier:
			if s.Execution == ScopeNone && s.Memory == ScopeNone {
				v.addError("barrier with neither execution nor memory scope")
			}
		case StmtIntrinsic:
			info := s.Op.Info()
			if info.HasResult {
				v.addError(fmt.Sprintf("%s used as a statement", s.Op))
			}
			if len(s.Args) != info.NumArgs {
				v.addError(fmt.Sprintf("%s takes %d operands, got %d", s.Op, info.NumArgs, len(s.Args)))
			}
			for _, a := range s.Args {
				v.checkUse(a)
			}
			if s.Index.WriteMask > 0xf {
				v.addError(fmt.Sprintf("%s writes more than 4 components", s.Op))
			}
		default:
			v.addError(fmt.Sprintf("unknown statement %T", st.Kind))
		}
	}
}

// checkUse reports whether h refers to a visible expression.
func (v *Validator) checkUse(h ExpressionHandle) bool {
	if int(h) >= len(v.fn.Expressions) {
		v.addError(fmt.Sprintf("expression handle %d out of range", h))
		return false
	}
	if !v.emitted[h] {
		v.addExprError(h, "used before it is emitted")
		return false
	}
	return true
}

func (v *Validator) validateExpression(h ExpressionHandle) {
	e := v.fn.Expressions[h]
	if e.NumComponents == 0 || e.NumComponents > 4 {
		v.addExprError(h, fmt.Sprintf("invalid component count %d", e.NumComponents))
	}
	if !validBitSize(e.BitSize) {
		v.addExprError(h, fmt.Sprintf("invalid bit size %d", e.BitSize))
	}
	for _, a := range Operands(e.Kind) {
		if a >= h {
			v.addExprError(h, fmt.Sprintf("operand %d is not defined before its use", a))
			continue
		}
		v.checkUse(a)
	}

	switch k := e.Kind.(type) {
	case ExprConst, ExprUndef:
	case ExprALU:
		if len(k.Args) != k.Op.NumArgs() {
			v.addExprError(h, fmt.Sprintf("%s takes %d operands, got %d", k.Op, k.Op.NumArgs(), len(k.Args)))
		}
		for _, a := range k.Args {
			if int(a) < len(v.fn.Expressions) {
				if nc := v.fn.Expressions[a].NumComponents; nc != 1 && nc != e.NumComponents {
					v.addExprError(h, fmt.Sprintf("operand %d has %d components, result has %d", a, nc, e.NumComponents))
				}
			}
		}
		if k.Op.IsComparison() && e.BitSize != 1 {
			v.addExprError(h, "comparison result must be 1-bit")
		}
	case ExprVec:
		if len(k.Components) != int(e.NumComponents) {
			v.addExprError(h, fmt.Sprintf("vector of %d components built from %d values", e.NumComponents, len(k.Components)))
		}
	case ExprChannel:
		if int(k.Vector) < len(v.fn.Expressions) && k.Component >= v.fn.Expressions[k.Vector].NumComponents {
			v.addExprError(h, fmt.Sprintf("channel %d out of range", k.Component))
		}
	case ExprLoadLocal:
		if int(k.Local) >= len(v.fn.LocalVars) {
			v.addExprError(h, fmt.Sprintf("load of invalid local %d", k.Local))
		}
	case ExprIntrinsic:
		info := k.Op.Info()
		if !info.HasResult {
			v.addExprError(h, fmt.Sprintf("%s used as a value", k.Op))
		}
		if len(k.Args) != info.NumArgs {
			v.addExprError(h, fmt.Sprintf("%s takes %d operands, got %d", k.Op, info.NumArgs, len(k.Args)))
		}
	default:
		v.addExprError(h, fmt.Sprintf("unknown expression %T", e.Kind))
	}
}
