package wasm

import (
	"github.com/contractvm/contractvm/wasm/internal/binary"
)

// Encode serializes the module back to the WebAssembly binary format.
// Sections are emitted in canonical order; empty sections are omitted.
// Custom sections are appended at the end, which is valid placement and
// keeps the encoder simple.
func (m *Module) Encode() []byte {
	w := binary.NewWriter()
	w.WriteU32LE(Magic)
	w.WriteU32LE(Version)

	if len(m.Types) > 0 {
		writeSection(w, SectionType, func(s *binary.Writer) {
			s.WriteU32(uint32(len(m.Types)))
			for i := range m.Types {
				writeFuncType(s, &m.Types[i])
			}
		})
	}

	if len(m.Imports) > 0 {
		writeSection(w, SectionImport, func(s *binary.Writer) {
			s.WriteU32(uint32(len(m.Imports)))
			for i := range m.Imports {
				writeImport(s, &m.Imports[i])
			}
		})
	}

	if len(m.Funcs) > 0 {
		writeSection(w, SectionFunction, func(s *binary.Writer) {
			s.WriteU32(uint32(len(m.Funcs)))
			for _, typeIdx := range m.Funcs {
				s.WriteU32(typeIdx)
			}
		})
	}

	if len(m.Tables) > 0 {
		writeSection(w, SectionTable, func(s *binary.Writer) {
			s.WriteU32(uint32(len(m.Tables)))
			for i := range m.Tables {
				s.Byte(m.Tables[i].ElemType)
				writeLimits(s, m.Tables[i].Limits)
			}
		})
	}

	if len(m.Memories) > 0 {
		writeSection(w, SectionMemory, func(s *binary.Writer) {
			s.WriteU32(uint32(len(m.Memories)))
			for i := range m.Memories {
				writeLimits(s, m.Memories[i].Limits)
			}
		})
	}

	if len(m.Globals) > 0 {
		writeSection(w, SectionGlobal, func(s *binary.Writer) {
			s.WriteU32(uint32(len(m.Globals)))
			for i := range m.Globals {
				s.Byte(byte(m.Globals[i].Type.ValType))
				if m.Globals[i].Type.Mutable {
					s.Byte(1)
				} else {
					s.Byte(0)
				}
				s.WriteBytes(m.Globals[i].Init)
			}
		})
	}

	if len(m.Exports) > 0 {
		writeSection(w, SectionExport, func(s *binary.Writer) {
			s.WriteU32(uint32(len(m.Exports)))
			for i := range m.Exports {
				s.WriteName(m.Exports[i].Name)
				s.Byte(m.Exports[i].Kind)
				s.WriteU32(m.Exports[i].Idx)
			}
		})
	}

	if m.Start != nil {
		writeSection(w, SectionStart, func(s *binary.Writer) {
			s.WriteU32(*m.Start)
		})
	}

	if len(m.Elements) > 0 {
		writeSection(w, SectionElement, func(s *binary.Writer) {
			s.WriteU32(uint32(len(m.Elements)))
			for i := range m.Elements {
				s.WriteU32(0) // flag 0: active, table 0
				s.WriteBytes(m.Elements[i].Offset)
				s.WriteU32(uint32(len(m.Elements[i].FuncIdxs)))
				for _, idx := range m.Elements[i].FuncIdxs {
					s.WriteU32(idx)
				}
			}
		})
	}

	if m.DataCount != nil {
		writeSection(w, SectionDataCount, func(s *binary.Writer) {
			s.WriteU32(*m.DataCount)
		})
	}

	if len(m.Code) > 0 {
		writeSection(w, SectionCode, func(s *binary.Writer) {
			s.WriteU32(uint32(len(m.Code)))
			for i := range m.Code {
				writeFuncBody(s, &m.Code[i])
			}
		})
	}

	if len(m.Data) > 0 {
		writeSection(w, SectionData, func(s *binary.Writer) {
			s.WriteU32(uint32(len(m.Data)))
			for i := range m.Data {
				s.WriteU32(0) // flag 0: active, memory 0
				s.WriteBytes(m.Data[i].Offset)
				s.WriteU32(uint32(len(m.Data[i].Init)))
				s.WriteBytes(m.Data[i].Init)
			}
		})
	}

	for i := range m.CustomSections {
		writeSection(w, SectionCustom, func(s *binary.Writer) {
			s.WriteName(m.CustomSections[i].Name)
			s.WriteBytes(m.CustomSections[i].Data)
		})
	}

	return w.Bytes()
}

func writeSection(w *binary.Writer, id byte, body func(*binary.Writer)) {
	inner := binary.NewWriter()
	body(inner)
	w.Byte(id)
	w.WriteU32(uint32(inner.Len()))
	w.WriteBytes(inner.Bytes())
}

func writeFuncType(w *binary.Writer, ft *FuncType) {
	w.Byte(0x60)
	w.WriteU32(uint32(len(ft.Params)))
	for _, p := range ft.Params {
		w.Byte(byte(p))
	}
	w.WriteU32(uint32(len(ft.Results)))
	for _, r := range ft.Results {
		w.Byte(byte(r))
	}
}

func writeImport(w *binary.Writer, imp *Import) {
	w.WriteName(imp.Module)
	w.WriteName(imp.Name)
	w.Byte(imp.Desc.Kind)
	switch imp.Desc.Kind {
	case KindFunc:
		w.WriteU32(imp.Desc.TypeIdx)
	case KindTable:
		w.Byte(imp.Desc.Table.ElemType)
		writeLimits(w, imp.Desc.Table.Limits)
	case KindMemory:
		writeLimits(w, imp.Desc.Memory.Limits)
	case KindGlobal:
		w.Byte(byte(imp.Desc.Global.ValType))
		if imp.Desc.Global.Mutable {
			w.Byte(1)
		} else {
			w.Byte(0)
		}
	}
}

func writeLimits(w *binary.Writer, l Limits) {
	var flags byte
	if l.Max != nil {
		flags |= 0x01
	}
	if l.Shared {
		flags |= 0x02
	}
	if l.Memory64 {
		flags |= 0x04
	}
	w.Byte(flags)
	if l.Memory64 {
		w.WriteU64(l.Min)
		if l.Max != nil {
			w.WriteU64(*l.Max)
		}
		return
	}
	w.WriteU32(uint32(l.Min))
	if l.Max != nil {
		w.WriteU32(uint32(*l.Max))
	}
}

func writeFuncBody(w *binary.Writer, body *FuncBody) {
	inner := binary.NewWriter()
	inner.WriteU32(uint32(len(body.Locals)))
	for _, local := range body.Locals {
		inner.WriteU32(local.Count)
		inner.Byte(byte(local.ValType))
	}
	inner.WriteBytes(body.Code)
	w.WriteU32(uint32(inner.Len()))
	w.WriteBytes(inner.Bytes())
}
