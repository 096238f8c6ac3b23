package wasm

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/contractvm/contractvm/wasm/internal/binary"
)

var (
	// ErrInvalidMagic is returned for data that is not a Wasm binary.
	ErrInvalidMagic = errors.New("invalid magic number")

	// ErrInvalidVersion is returned for unsupported binary format versions.
	ErrInvalidVersion = errors.New("unsupported binary version")
)

// maxVectorLen bounds every count read from the binary before allocating,
// so a short adversarial input cannot request a huge allocation.
const maxVectorLen = 10_000_000

// ParseModule decodes a WebAssembly binary into a Module. The input is
// untrusted; any structural problem yields an error, never a panic.
func ParseModule(data []byte) (*Module, error) {
	r := binary.NewReader(data)

	magic, err := r.ReadU32LE()
	if err != nil {
		return nil, r.WrapError("header", err)
	}
	if magic != Magic {
		return nil, r.WrapError("header", ErrInvalidMagic)
	}
	version, err := r.ReadU32LE()
	if err != nil {
		return nil, r.WrapError("header", err)
	}
	if version != Version {
		return nil, r.WrapError("header", fmt.Errorf("%w: %d", ErrInvalidVersion, version))
	}

	m := &Module{}
	lastSection := byte(0)
	for {
		id, err := r.ReadByte()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, r.WrapError("section id", err)
		}
		size, err := r.ReadU32()
		if err != nil {
			return nil, r.WrapError("section size", err)
		}
		if id != SectionCustom {
			if id > SectionTag {
				return nil, r.WrapError("section id", fmt.Errorf("unknown section id %d", id))
			}
			if sectionOrder(id) <= sectionOrder(lastSection) && lastSection != 0 {
				return nil, r.WrapError("section id", fmt.Errorf("section %d out of order", id))
			}
			lastSection = id
		}

		payload, err := r.ReadBytes(int(size))
		if err != nil {
			return nil, r.WrapError("section payload", err)
		}
		sr := binary.NewReader(payload)

		switch id {
		case SectionCustom:
			err = parseCustomSection(sr, m)
		case SectionType:
			err = parseTypeSection(sr, m)
		case SectionImport:
			err = parseImportSection(sr, m)
		case SectionFunction:
			err = parseFunctionSection(sr, m)
		case SectionTable:
			err = parseTableSection(sr, m)
		case SectionMemory:
			err = parseMemorySection(sr, m)
		case SectionGlobal:
			err = parseGlobalSection(sr, m)
		case SectionExport:
			err = parseExportSection(sr, m)
		case SectionStart:
			err = parseStartSection(sr, m)
		case SectionElement:
			err = parseElementSection(sr, m)
		case SectionCode:
			err = parseCodeSection(sr, m)
		case SectionData:
			err = parseDataSection(sr, m)
		case SectionDataCount:
			err = parseDataCountSection(sr, m)
		case SectionTag:
			err = errors.New("exception handling tag section is not supported")
		}
		if err != nil {
			return nil, fmt.Errorf("section %d: %w", id, err)
		}
	}

	if len(m.Code) != len(m.Funcs) {
		return nil, fmt.Errorf("code section has %d entries but function section declares %d", len(m.Code), len(m.Funcs))
	}
	return m, nil
}

// sectionOrder maps section ids to their required position. DataCount sits
// between Element and Code.
func sectionOrder(id byte) int {
	switch id {
	case SectionDataCount:
		return int(SectionCode)*2 - 1
	default:
		return int(id) * 2
	}
}

func readCount(r *binary.Reader) (uint32, error) {
	n, err := r.ReadU32()
	if err != nil {
		return 0, err
	}
	if n > maxVectorLen {
		return 0, fmt.Errorf("vector length %d exceeds limit", n)
	}
	return n, nil
}

func parseCustomSection(r *binary.Reader, m *Module) error {
	name, err := r.ReadName()
	if err != nil {
		return err
	}
	data, err := r.ReadRemaining()
	if err != nil {
		return err
	}
	m.CustomSections = append(m.CustomSections, CustomSection{Name: name, Data: data})
	return nil
}

func parseTypeSection(r *binary.Reader, m *Module) error {
	count, err := readCount(r)
	if err != nil {
		return err
	}
	for i := uint32(0); i < count; i++ {
		form, err := r.ReadByte()
		if err != nil {
			return err
		}
		if form != FuncTypeByte {
			return fmt.Errorf("type %d: unsupported type form 0x%02X", i, form)
		}
		ft, err := readFuncType(r)
		if err != nil {
			return fmt.Errorf("type %d: %w", i, err)
		}
		m.Types = append(m.Types, ft)
	}
	return nil
}

func readFuncType(r *binary.Reader) (FuncType, error) {
	params, err := readValTypes(r)
	if err != nil {
		return FuncType{}, err
	}
	results, err := readValTypes(r)
	if err != nil {
		return FuncType{}, err
	}
	return FuncType{Params: params, Results: results}, nil
}

func readValTypes(r *binary.Reader) ([]ValType, error) {
	count, err := readCount(r)
	if err != nil {
		return nil, err
	}
	types := make([]ValType, count)
	for i := range types {
		b, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		types[i] = ValType(b)
	}
	return types, nil
}

func parseImportSection(r *binary.Reader, m *Module) error {
	count, err := readCount(r)
	if err != nil {
		return err
	}
	for i := uint32(0); i < count; i++ {
		mod, err := r.ReadName()
		if err != nil {
			return err
		}
		name, err := r.ReadName()
		if err != nil {
			return err
		}
		kind, err := r.ReadByte()
		if err != nil {
			return err
		}
		imp := Import{Module: mod, Name: name, Desc: ImportDesc{Kind: kind}}
		switch kind {
		case KindFunc:
			typeIdx, err := r.ReadU32()
			if err != nil {
				return err
			}
			imp.Desc.TypeIdx = typeIdx
		case KindTable:
			tt, err := readTableType(r)
			if err != nil {
				return err
			}
			imp.Desc.Table = &tt
		case KindMemory:
			limits, err := readLimits(r)
			if err != nil {
				return err
			}
			imp.Desc.Memory = &MemoryType{Limits: limits}
		case KindGlobal:
			gt, err := readGlobalType(r)
			if err != nil {
				return err
			}
			imp.Desc.Global = &gt
		default:
			return fmt.Errorf("import %s.%s: unknown kind %d", mod, name, kind)
		}
		m.Imports = append(m.Imports, imp)
	}
	return nil
}

func parseFunctionSection(r *binary.Reader, m *Module) error {
	count, err := readCount(r)
	if err != nil {
		return err
	}
	m.Funcs = make([]uint32, count)
	for i := range m.Funcs {
		typeIdx, err := r.ReadU32()
		if err != nil {
			return err
		}
		m.Funcs[i] = typeIdx
	}
	return nil
}

func parseTableSection(r *binary.Reader, m *Module) error {
	count, err := readCount(r)
	if err != nil {
		return err
	}
	for i := uint32(0); i < count; i++ {
		tt, err := readTableType(r)
		if err != nil {
			return fmt.Errorf("table %d: %w", i, err)
		}
		m.Tables = append(m.Tables, tt)
	}
	return nil
}

func readTableType(r *binary.Reader) (TableType, error) {
	elemType, err := r.ReadByte()
	if err != nil {
		return TableType{}, err
	}
	limits, err := readLimits(r)
	if err != nil {
		return TableType{}, err
	}
	return TableType{ElemType: elemType, Limits: limits}, nil
}

func parseMemorySection(r *binary.Reader, m *Module) error {
	count, err := readCount(r)
	if err != nil {
		return err
	}
	for i := uint32(0); i < count; i++ {
		limits, err := readLimits(r)
		if err != nil {
			return fmt.Errorf("memory %d: %w", i, err)
		}
		m.Memories = append(m.Memories, MemoryType{Limits: limits})
	}
	return nil
}

// readLimits decodes a limits structure. Flag bits for shared memories
// (threads) and 64-bit address spaces are recorded rather than rejected so
// validation can name the offending feature.
func readLimits(r *binary.Reader) (Limits, error) {
	flags, err := r.ReadByte()
	if err != nil {
		return Limits{}, err
	}
	if flags > 0x07 {
		return Limits{}, fmt.Errorf("invalid limits flags 0x%02X", flags)
	}
	limits := Limits{
		Shared:   flags&0x02 != 0,
		Memory64: flags&0x04 != 0,
	}
	limits.Min, err = r.ReadU64()
	if err != nil {
		return Limits{}, err
	}
	if flags&0x01 != 0 {
		max, err := r.ReadU64()
		if err != nil {
			return Limits{}, err
		}
		limits.Max = &max
	}
	return limits, nil
}

func readGlobalType(r *binary.Reader) (GlobalType, error) {
	valType, err := r.ReadByte()
	if err != nil {
		return GlobalType{}, err
	}
	mut, err := r.ReadByte()
	if err != nil {
		return GlobalType{}, err
	}
	if mut > 1 {
		return GlobalType{}, fmt.Errorf("invalid mutability flag %d", mut)
	}
	return GlobalType{ValType: ValType(valType), Mutable: mut == 1}, nil
}

func parseGlobalSection(r *binary.Reader, m *Module) error {
	count, err := readCount(r)
	if err != nil {
		return err
	}
	for i := uint32(0); i < count; i++ {
		gt, err := readGlobalType(r)
		if err != nil {
			return fmt.Errorf("global %d: %w", i, err)
		}
		init, err := readInitExpr(r)
		if err != nil {
			return fmt.Errorf("global %d: %w", i, err)
		}
		m.Globals = append(m.Globals, Global{Type: gt, Init: init})
	}
	return nil
}

func parseExportSection(r *binary.Reader, m *Module) error {
	count, err := readCount(r)
	if err != nil {
		return err
	}
	for i := uint32(0); i < count; i++ {
		name, err := r.ReadName()
		if err != nil {
			return err
		}
		kind, err := r.ReadByte()
		if err != nil {
			return err
		}
		if kind > KindGlobal {
			return fmt.Errorf("export %q: unknown kind %d", name, kind)
		}
		idx, err := r.ReadU32()
		if err != nil {
			return err
		}
		m.Exports = append(m.Exports, Export{Name: name, Kind: kind, Idx: idx})
	}
	return nil
}

func parseStartSection(r *binary.Reader, m *Module) error {
	idx, err := r.ReadU32()
	if err != nil {
		return err
	}
	m.Start = &idx
	return nil
}

func parseElementSection(r *binary.Reader, m *Module) error {
	count, err := readCount(r)
	if err != nil {
		return err
	}
	for i := uint32(0); i < count; i++ {
		flags, err := r.ReadU32()
		if err != nil {
			return err
		}
		if flags != 0 {
			return fmt.Errorf("element %d: unsupported element segment flags %d", i, flags)
		}
		offset, err := readInitExpr(r)
		if err != nil {
			return fmt.Errorf("element %d: %w", i, err)
		}
		n, err := readCount(r)
		if err != nil {
			return err
		}
		funcIdxs := make([]uint32, n)
		for j := range funcIdxs {
			funcIdxs[j], err = r.ReadU32()
			if err != nil {
				return err
			}
		}
		m.Elements = append(m.Elements, Element{Offset: offset, FuncIdxs: funcIdxs})
	}
	return nil
}

func parseCodeSection(r *binary.Reader, m *Module) error {
	count, err := readCount(r)
	if err != nil {
		return err
	}
	for i := uint32(0); i < count; i++ {
		bodySize, err := r.ReadU32()
		if err != nil {
			return err
		}
		body, err := r.ReadBytes(int(bodySize))
		if err != nil {
			return fmt.Errorf("function %d: %w", i, err)
		}
		br := binary.NewReader(body)
		numLocals, err := readCount(br)
		if err != nil {
			return fmt.Errorf("function %d: %w", i, err)
		}
		locals := make([]LocalEntry, numLocals)
		for j := range locals {
			n, err := br.ReadU32()
			if err != nil {
				return fmt.Errorf("function %d: %w", i, err)
			}
			vt, err := br.ReadByte()
			if err != nil {
				return fmt.Errorf("function %d: %w", i, err)
			}
			locals[j] = LocalEntry{Count: n, ValType: ValType(vt)}
		}
		code, err := br.ReadRemaining()
		if err != nil {
			return fmt.Errorf("function %d: %w", i, err)
		}
		m.Code = append(m.Code, FuncBody{Locals: locals, Code: code})
	}
	return nil
}

func parseDataSection(r *binary.Reader, m *Module) error {
	count, err := readCount(r)
	if err != nil {
		return err
	}
	for i := uint32(0); i < count; i++ {
		flags, err := r.ReadU32()
		if err != nil {
			return err
		}
		if flags != 0 {
			return fmt.Errorf("data segment %d: unsupported data segment flags %d", i, flags)
		}
		offset, err := readInitExpr(r)
		if err != nil {
			return fmt.Errorf("data segment %d: %w", i, err)
		}
		size, err := readCount(r)
		if err != nil {
			return err
		}
		init, err := r.ReadBytes(int(size))
		if err != nil {
			return fmt.Errorf("data segment %d: %w", i, err)
		}
		m.Data = append(m.Data, DataSegment{Offset: offset, Init: init})
	}
	return nil
}

func parseDataCountSection(r *binary.Reader, m *Module) error {
	count, err := r.ReadU32()
	if err != nil {
		return err
	}
	m.DataCount = &count
	return nil
}

// readInitExpr copies a constant expression verbatim, including the end
// opcode. Only the constant instructions allowed in init position are
// handled.
func readInitExpr(r *binary.Reader) ([]byte, error) {
	var buf bytes.Buffer
	for {
		op, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		buf.WriteByte(op)
		switch op {
		case OpEnd:
			return buf.Bytes(), nil
		case OpI32Const:
			if err := copySLEB(r, &buf); err != nil {
				return nil, err
			}
		case OpI64Const:
			if err := copySLEB(r, &buf); err != nil {
				return nil, err
			}
		case OpF32Const:
			if err := copyFixed(r, &buf, 4); err != nil {
				return nil, err
			}
		case OpF64Const:
			if err := copyFixed(r, &buf, 8); err != nil {
				return nil, err
			}
		case OpGlobalGet:
			if err := copySLEB(r, &buf); err != nil {
				return nil, err
			}
		default:
			return nil, fmt.Errorf("unsupported instruction %s in constant expression", OpcodeName(op))
		}
	}
}

// copySLEB copies one LEB128-encoded value byte for byte.
func copySLEB(r *binary.Reader, buf *bytes.Buffer) error {
	for i := 0; i < 10; i++ {
		b, err := r.ReadByte()
		if err != nil {
			return err
		}
		buf.WriteByte(b)
		if b&0x80 == 0 {
			return nil
		}
	}
	return errors.New("unterminated LEB128 value")
}

func copyFixed(r *binary.Reader, buf *bytes.Buffer, n int) error {
	data, err := r.ReadBytes(n)
	if err != nil {
		return err
	}
	buf.Write(data)
	return nil
}
